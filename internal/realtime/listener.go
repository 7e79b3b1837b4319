package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/ltme/internal/model"
)

// Channel はトリガーが変更を通知するPostgreSQLのチャネル名。
const Channel = "ltme_changes"

const (
	minReconnectInterval = 1 * time.Second
	maxReconnectInterval = 1 * time.Minute
	pingInterval         = 90 * time.Second
)

// Publisher は変更通知の配信先。
type Publisher interface {
	Publish(c model.Change)
}

// Listener はPostgreSQLのLISTEN/NOTIFYで変更を受信しPublisherへ渡す。
type Listener struct {
	databaseURL string
	publisher   Publisher
}

// NewListener はListenerを生成する。
func NewListener(databaseURL string, publisher Publisher) *Listener {
	return &Listener{databaseURL: databaseURL, publisher: publisher}
}

// Run はctxがキャンセルされるまで通知を受信し続ける。
// 再接続した場合は取りこぼしの可能性があるため、全購読者へRESYNCを送る。
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.databaseURL, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("change listener event", slog.Int("event", int(ev)), slog.String("error", err.Error()))
			}
		})
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}
	slog.Info("change listener started", slog.String("channel", Channel))

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("change listener stopped")
			return nil
		case n := <-listener.Notify:
			if n == nil {
				l.publisher.Publish(model.Change{Op: model.ChangeResync, At: time.Now()})
				continue
			}
			c, err := DecodeChange(n.Extra)
			if err != nil {
				slog.Warn("failed to decode change notification",
					slog.String("payload", n.Extra),
					slog.String("error", err.Error()),
				)
				continue
			}
			l.publisher.Publish(c)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					slog.Warn("change listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// DecodeChange は通知ペイロードのJSONをmodel.Changeへ変換する。
func DecodeChange(payload string) (model.Change, error) {
	var c model.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return model.Change{}, fmt.Errorf("invalid change payload: %w", err)
	}
	if c.Table == "" || c.Op == "" {
		return model.Change{}, fmt.Errorf("invalid change payload: missing table or op")
	}
	return c, nil
}
