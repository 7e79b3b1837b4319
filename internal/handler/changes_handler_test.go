package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/realtime"
)

// readEvent はSSEストリームから次のchangeイベントのデータを読み取る。コメント行は読み飛ばす。
func readEvent(t *testing.T, sc *bufio.Scanner) model.Change {
	t.Helper()
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var c model.Change
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			t.Fatalf("invalid event data %q: %v", data, err)
		}
		return c
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return model.Change{}
}

func startChangesServer(t *testing.T, hub *realtime.Hub, userID string) *httptest.Server {
	t.Helper()
	h := NewChangesHandler(hub)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, withUserID(r, userID))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChangesHandler_StreamsOwnChanges(t *testing.T) {
	hub := realtime.NewHub(metrics.Nop{})
	defer hub.Close()
	srv := startChangesServer(t, hub, "user-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/changes?tables=follows", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// 購読が登録されるまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	// 他人の変更と購読していないテーブルの変更は届かない
	hub.Publish(model.Change{Table: model.TableFollows, Op: model.ChangeInsert, UserID: "user-2", TargetID: "x"})
	hub.Publish(model.Change{Table: model.TableSavedPosts, Op: model.ChangeInsert, UserID: "user-1", TargetID: "p1"})
	hub.Publish(model.Change{Table: model.TableFollows, Op: model.ChangeInsert, UserID: "user-1", TargetID: "user-3"})

	got := readEvent(t, bufio.NewScanner(resp.Body))
	if got.Table != model.TableFollows || got.TargetID != "user-3" {
		t.Errorf("event = %+v, want follows/user-3", got)
	}
}

func TestChangesHandler_EndsWhenHubCloses(t *testing.T) {
	hub := realtime.NewHub(metrics.Nop{})
	srv := startChangesServer(t, hub, "user-1")

	resp, err := http.Get(srv.URL + "/api/changes")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	hub.Close()

	done := make(chan struct{})
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after hub close")
	}
}

func TestChangesHandler_RequiresUser(t *testing.T) {
	hub := realtime.NewHub(metrics.Nop{})
	defer hub.Close()
	h := NewChangesHandler(hub)

	w := httptest.NewRecorder()
	h.Stream(w, httptest.NewRequest(http.MethodGet, "/api/changes", nil))

	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
	if hub.Len() != 0 {
		t.Errorf("subscription leaked: %d", hub.Len())
	}
}
