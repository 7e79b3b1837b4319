package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/testutil"
)

func newFakeContent() *testutil.FakeGateway {
	gw := testutil.NewFakeGateway()
	gw.SetPosts(
		model.Post{ID: "p1", UserID: "A", Title: "Lake", CreatedAt: at(10, 0)},
		model.Post{ID: "p2", UserID: "B", Title: "Forest", CreatedAt: at(9, 0)},
	)
	gw.SetAlbums(model.Album{ID: "a1", Title: "Trips", CreatedAt: at(9, 30)})
	return gw
}

func TestLoader_All(t *testing.T) {
	gw := newFakeContent()
	snap := NewLoader(gw, 0, 0, nil).Load(context.Background(), ModeAll, "")

	if snap.Err() != nil {
		t.Fatalf("Err() = %v", snap.Err())
	}
	if len(snap.Posts) != 2 || len(snap.Albums) != 1 {
		t.Errorf("got %d posts and %d albums, want 2 and 1", len(snap.Posts), len(snap.Albums))
	}

	c := NewComposer()
	snap.Apply(c)
	if got, want := keys(c.Items()), []string{"post:p1", "album:a1", "post:p2"}; !equalStrings(got, want) {
		t.Errorf("Items() = %v, want %v", got, want)
	}
}

func TestLoader_PartialFailure(t *testing.T) {
	tests := []struct {
		name       string
		failMethod string
		wantPosts  int
		wantAlbums int
	}{
		{"albums fail", testutil.MethodListAlbums, 2, 0},
		{"posts fail", testutil.MethodListPosts, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeContent()
			boom := errors.New("boom")
			gw.SetError(tt.failMethod, boom)

			snap := NewLoader(gw, 0, 0, nil).Load(context.Background(), ModeAll, "")
			if len(snap.Posts) != tt.wantPosts || len(snap.Albums) != tt.wantAlbums {
				t.Errorf("got %d posts and %d albums, want %d and %d",
					len(snap.Posts), len(snap.Albums), tt.wantPosts, tt.wantAlbums)
			}
			if !errors.Is(snap.Err(), boom) {
				t.Errorf("Err() = %v, want wrapped boom", snap.Err())
			}

			c := NewComposer()
			snap.Apply(c)
			if len(c.Items()) != tt.wantPosts+tt.wantAlbums {
				t.Errorf("composer shows %d items, want the surviving side only", len(c.Items()))
			}
		})
	}
}

func TestLoader_RecentSkipsQueryAndAlbums(t *testing.T) {
	gw := newFakeContent()
	snap := NewLoader(gw, 0, 0, nil).Load(context.Background(), ModeRecent, "forest")

	if len(snap.Posts) != 2 {
		t.Errorf("recent returned %d posts, want 2 (query bypassed)", len(snap.Posts))
	}
	if gw.CallCount(testutil.MethodListAlbums) != 0 {
		t.Error("recent mode fetched albums")
	}

	c := NewComposer()
	c.SetMode(ModeRecent)
	snap.Apply(c)
	if len(c.Items()) != 2 {
		t.Errorf("composer shows %d recent items, want 2", len(c.Items()))
	}
}

func TestLoader_AllPassesQuery(t *testing.T) {
	gw := newFakeContent()
	snap := NewLoader(gw, 0, 0, nil).Load(context.Background(), ModeAll, "forest")
	if len(snap.Posts) != 1 || snap.Posts[0].ID != "p2" {
		t.Errorf("Posts = %+v, want [p2]", snap.Posts)
	}
}
