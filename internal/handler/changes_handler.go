package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/ltme/internal/realtime"
)

// heartbeatInterval はSSE接続を維持するためのコメント送信間隔。
const heartbeatInterval = 25 * time.Second

// ChangeSubscriber は変更通知の購読に必要なインターフェース。
type ChangeSubscriber interface {
	Subscribe(filter realtime.Filter, buffer int) *realtime.Subscription
}

// ChangesHandler は自分に関係する行の変更をServer-Sent Eventsで配信する。
type ChangesHandler struct {
	hub       ChangeSubscriber
	heartbeat time.Duration
}

// NewChangesHandler はChangesHandlerを生成する。
func NewChangesHandler(hub ChangeSubscriber) *ChangesHandler {
	return &ChangesHandler{hub: hub, heartbeat: heartbeatInterval}
}

// Stream は変更通知をSSEで送り続ける。クライアントの切断かHubの停止で終了する。
// GET /api/changes?tables=follows,saved_posts
func (h *ChangesHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// サーバーのWriteTimeoutで長時間接続が切られないよう期限を外す
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("write deadline not supported", slog.String("error", err.Error()))
	}

	var tables []string
	if raw := r.URL.Query().Get("tables"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}

	sub := h.hub.Subscribe(realtime.Filter{Tables: tables, UserID: userID}, realtime.DefaultBuffer)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		slog.Warn("streaming not supported", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case c, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(c)
			if err != nil {
				slog.Error("failed to encode change", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
