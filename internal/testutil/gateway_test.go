package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
)

func TestFakeGateway_Constraints(t *testing.T) {
	g := NewFakeGateway()
	ctx := context.Background()

	if err := g.Follow(ctx, "u1", "u1"); !model.HasCode(err, model.ErrCodeCannotFollowSelf) {
		t.Errorf("self Follow error = %v", err)
	}
	if err := g.Follow(ctx, "u1", "u2"); err != nil {
		t.Fatalf("Follow error = %v", err)
	}
	if err := g.Follow(ctx, "u1", "u2"); !model.HasCode(err, model.ErrCodeAlreadyFollowing) {
		t.Errorf("duplicate Follow error = %v", err)
	}
	g.SetSaved("u1", "p1")
	if err := g.SavePost(ctx, "u1", "p1"); !model.HasCode(err, model.ErrCodeAlreadySaved) {
		t.Errorf("duplicate SavePost error = %v", err)
	}
	if err := g.UnsavePost(ctx, "u1", "missing"); err != nil {
		t.Errorf("UnsavePost(missing) error = %v", err)
	}
	if got := g.CallCount(MethodFollow); got != 3 {
		t.Errorf("CallCount(Follow) = %d, want 3", got)
	}
}

func TestFakeGateway_SetError(t *testing.T) {
	g := NewFakeGateway()
	boom := errors.New("boom")
	g.SetError(MethodListPosts, boom)

	if _, err := g.ListPosts(context.Background(), model.PostQuery{}); !errors.Is(err, boom) {
		t.Errorf("ListPosts error = %v, want boom", err)
	}
	g.SetError(MethodListPosts, nil)
	if _, err := g.ListPosts(context.Background(), model.PostQuery{}); err != nil {
		t.Errorf("ListPosts after reset error = %v", err)
	}
}

func TestFakeGateway_Emit(t *testing.T) {
	g := NewFakeGateway()
	var got []model.Change
	unsubscribe, _ := g.SubscribeToChanges(context.Background(), model.TableFollows,
		gateway.ChangeFilter{UserID: "u1"}, func(c model.Change) { got = append(got, c) })

	g.Emit(model.Change{Table: model.TableFollows, UserID: "u2"})
	g.Emit(model.Change{Table: model.TableSavedPosts, UserID: "u1"})
	g.Emit(model.Change{Table: model.TableFollows, UserID: "u1", TargetID: "u3"})
	unsubscribe()
	g.Emit(model.Change{Table: model.TableFollows, UserID: "u1", TargetID: "u4"})

	if len(got) != 1 || got[0].TargetID != "u3" {
		t.Errorf("received %+v, want only u1 -> u3", got)
	}
	if g.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", g.Subscribers())
	}
}
