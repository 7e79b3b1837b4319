package rest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/session"
	"github.com/hitoshi/ltme/internal/testutil"
)

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := reconnectDelay(tt.failures, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("reconnectDelay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": connected",
		"",
		"event: change",
		`data: {"table":"follows"}`,
		"",
		": ping",
		"",
		"data: first",
		"data: second",
		"",
	}, "\n")

	type event struct{ name, data string }
	var got []event
	err := readEvents(strings.NewReader(stream), func(name, data string) {
		got = append(got, event{name, data})
	})
	if !errors.Is(err, errStreamClosed) {
		t.Errorf("readEvents error = %v, want errStreamClosed", err)
	}
	want := []event{
		{"change", `{"table":"follows"}`},
		{"message", "first\nsecond"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// waitForSubscribers はHubの購読数がn以上になるまで待つ。
func waitForSubscribers(t *testing.T, b *testutil.Backend, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for b.Hub.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers (have %d)", n, b.Hub.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, ch <-chan model.Change) model.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return model.Change{}
}

func TestSubscribeToChanges_ReceivesOwnChanges(t *testing.T) {
	b := testutil.NewBackend(t)
	c, me := signedInClient(t, b, "alice@example.com")

	got := make(chan model.Change, 8)
	unsubscribe, err := c.SubscribeToChanges(context.Background(), model.TableFollows,
		gateway.ChangeFilter{UserID: me}, func(ch model.Change) { got <- ch })
	if err != nil {
		t.Fatalf("SubscribeToChanges error = %v", err)
	}
	defer unsubscribe()
	waitForSubscribers(t, b, 1)

	// 他人の変更と別テーブルの変更はサーバーで除外される
	b.Hub.Publish(model.Change{Table: model.TableFollows, Op: model.ChangeInsert, UserID: "someone-else", TargetID: "x"})
	b.Hub.Publish(model.Change{Table: model.TableSavedPosts, Op: model.ChangeInsert, UserID: me, TargetID: "p1"})
	b.Hub.Publish(model.Change{Table: model.TableFollows, Op: model.ChangeInsert, UserID: me, TargetID: "bob"})

	ch := receive(t, got)
	if ch.Table != model.TableFollows || ch.UserID != me || ch.TargetID != "bob" || ch.Op != model.ChangeInsert {
		t.Errorf("received %+v, want own follows insert", ch)
	}
	select {
	case extra := <-got:
		t.Errorf("unexpected extra change %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeToChanges_ResyncAfterReconnect(t *testing.T) {
	b := testutil.NewBackend(t)
	c, me := signedInClient(t, b, "alice@example.com", WithReconnectDelay(10*time.Millisecond, 50*time.Millisecond))

	got := make(chan model.Change, 8)
	unsubscribe, err := c.SubscribeToChanges(context.Background(), model.TableSavedPosts,
		gateway.ChangeFilter{UserID: me}, func(ch model.Change) { got <- ch })
	if err != nil {
		t.Fatalf("SubscribeToChanges error = %v", err)
	}
	defer unsubscribe()
	waitForSubscribers(t, b, 1)

	b.Server.CloseClientConnections()

	ch := receive(t, got)
	if ch.Op != model.ChangeResync || ch.Table != model.TableSavedPosts {
		t.Fatalf("received %+v, want RESYNC for saved_posts", ch)
	}

	waitForSubscribers(t, b, 1)
	b.Hub.Publish(model.Change{Table: model.TableSavedPosts, Op: model.ChangeDelete, UserID: me, TargetID: "p1"})
	ch = receive(t, got)
	if ch.Op != model.ChangeDelete || ch.TargetID != "p1" {
		t.Errorf("received %+v after reconnect, want saved_posts delete", ch)
	}
}

func TestSubscribeToChanges_UnsubscribeStopsStream(t *testing.T) {
	b := testutil.NewBackend(t)
	c, me := signedInClient(t, b, "alice@example.com")

	unsubscribe, err := c.SubscribeToChanges(context.Background(), model.TableFollows,
		gateway.ChangeFilter{UserID: me}, func(model.Change) {})
	if err != nil {
		t.Fatalf("SubscribeToChanges error = %v", err)
	}
	waitForSubscribers(t, b, 1)

	unsubscribe()

	deadline := time.Now().Add(5 * time.Second)
	for b.Hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("server subscription was not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscribeToChanges_Rejected(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()

	anon := New(b.URL(), session.New(nil))
	if _, err := anon.SubscribeToChanges(ctx, model.TableFollows, gateway.ChangeFilter{}, func(model.Change) {}); !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("anonymous subscribe error = %v, want UNAUTHORIZED", err)
	}

	c, _ := signedInClient(t, b, "alice@example.com")
	if _, err := c.SubscribeToChanges(ctx, model.TableFollows, gateway.ChangeFilter{UserID: "bob"}, func(model.Change) {}); !model.HasCode(err, model.ErrCodeForbidden) {
		t.Errorf("subscribe for another user error = %v, want FORBIDDEN", err)
	}
}
