package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
)

const (
	// initialReconnectDelay は再接続の初回待ち時間。
	initialReconnectDelay = time.Second
	// maxReconnectDelay は再接続の最大待ち時間。
	maxReconnectDelay = 30 * time.Second
)

// errStreamClosed はサーバーがストリームを閉じたことを表す。
var errStreamClosed = errors.New("change stream closed by server")

// reconnectDelay は連続失敗回数に基づいて指数バックオフの待ち時間を計算する。
// 初回initial、2倍ずつ増加し、ceilingで頭打ちになる。
func reconnectDelay(consecutiveErrors int, initial, ceiling time.Duration) time.Duration {
	delay := initial
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > ceiling {
			return ceiling
		}
	}
	return delay
}

// SubscribeToChanges はGET /api/changesのServer-Sent Eventsを購読する。
// 接続が切れた場合は指数バックオフで再接続し、再接続に成功したらRESYNCを通知する。
// 購読の範囲はサーバーがトークンのユーザーに限定するため、filter.UserIDは本人である必要がある。
func (c *Client) SubscribeToChanges(
	ctx context.Context,
	table string,
	filter gateway.ChangeFilter,
	callback func(model.Change),
) (func(), error) {
	if _, err := c.session.Token(); err != nil {
		return nil, model.NewUnauthorizedError()
	}
	if filter.UserID != "" && filter.UserID != c.session.UserID() {
		return nil, model.NewForbiddenError("他のユーザーの変更通知")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.streamLoop(ctx, table, callback)
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (c *Client) streamLoop(ctx context.Context, table string, callback func(model.Change)) {
	connectedBefore := false
	failures := 0

	for {
		err := c.streamOnce(ctx, table, callback, func() {
			if connectedBefore {
				// 切断中の変更は届いていないため再読み込みを促す
				callback(model.Change{Table: table, Op: model.ChangeResync, At: time.Now()})
			}
			connectedBefore = true
			failures = 0
		})
		if ctx.Err() != nil {
			return
		}
		if isUnauthorized(err) {
			c.logger.Warn("change stream rejected, giving up", slog.String("table", table))
			return
		}

		delay := reconnectDelay(failures, c.initialReconnectDelay, c.maxReconnectDelay)
		failures++
		c.logger.Warn("change stream disconnected",
			slog.String("table", table),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// streamOnce は1回分の接続を処理する。接続が確立したらonConnectedを呼ぶ。
func (c *Client) streamOnce(ctx context.Context, table string, callback func(model.Change), onConnected func()) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/changes", url.Values{"tables": {table}}, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("connecting change stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	onConnected()

	return readEvents(resp.Body, func(event, data string) {
		if event != "change" {
			return
		}
		var ch model.Change
		if err := json.Unmarshal([]byte(data), &ch); err != nil {
			c.logger.Warn("invalid change event", slog.String("error", err.Error()))
			return
		}
		callback(ch)
	})
}

// readEvents はServer-Sent Eventsを読み、イベントごとにdispatchを呼ぶ。
// コメント行（":"で始まる行）は読み飛ばす。
func readEvents(r io.Reader, dispatch func(event, data string)) error {
	sc := bufio.NewScanner(r)
	var event string
	var data []string

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if event == "" {
					event = "message"
				}
				dispatch(event, strings.Join(data, "\n"))
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading change stream: %w", err)
	}
	return errStreamClosed
}
