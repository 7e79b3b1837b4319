package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ltme/internal/testutil"
)

// cli はテスト用バックエンドにつないだクライアント設定でコマンドを実行する。
type cli struct {
	t          *testing.T
	configPath string
}

func newCLI(t *testing.T, b *testutil.Backend) *cli {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`api_url: %s
gateway: rest
data_dir: %s
session_store: sqlite
encrypt_session: true
log_level: error
`, b.URL(), filepath.Join(dir, "data"))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cli{t: t, configPath: path}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetArgs(append([]string{"--config", c.configPath}, args...))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	if err != nil {
		c.t.Fatalf("%v error = %v", args, err)
	}
	return out
}

func TestClient_SignUpWhoAmILogout(t *testing.T) {
	b := testutil.NewBackend(t)
	c := newCLI(t, b)

	out := c.mustRun("password123\n", "signup", "--email", "alice@example.com")
	if !strings.HasPrefix(out, "Signed in as alice@example.com (") {
		t.Errorf("signup output = %q", out)
	}

	out = c.mustRun("", "whoami")
	if !strings.Contains(out, "alice@example.com") {
		t.Errorf("whoami output = %q", out)
	}

	if out := c.mustRun("", "logout"); out != "Signed out\n" {
		t.Errorf("logout output = %q", out)
	}
	if _, err := c.run("", "whoami"); !errors.Is(err, errNotSignedIn) {
		t.Errorf("whoami after logout error = %v, want errNotSignedIn", err)
	}
	if out := c.mustRun("", "logout"); out != "Not signed in\n" {
		t.Errorf("second logout output = %q", out)
	}

	out = c.mustRun("password123\n", "login", "-e", "alice@example.com")
	if !strings.Contains(out, "alice@example.com") {
		t.Errorf("login output = %q", out)
	}
}

func TestClient_LoginWithWrongPassword(t *testing.T) {
	b := testutil.NewBackend(t)
	b.SignUp(t, "alice@example.com")
	c := newCLI(t, b)

	if _, err := c.run("wrong-password\n", "login", "--email", "alice@example.com"); err == nil {
		t.Fatal("login with wrong password succeeded")
	}
	if _, err := c.run("", "whoami"); !errors.Is(err, errNotSignedIn) {
		t.Errorf("whoami error = %v, want errNotSignedIn", err)
	}
}

func TestClient_FollowToggleAndList(t *testing.T) {
	b := testutil.NewBackend(t)
	bob := b.SignUp(t, "bob@example.com")
	c := newCLI(t, b)
	c.mustRun("password123\n", "signup", "--email", "alice@example.com")

	if out := c.mustRun("", "follow", bob.User.ID); out != "Following "+bob.User.ID+"\n" {
		t.Errorf("follow output = %q", out)
	}
	if out := c.mustRun("", "following"); out != bob.User.ID+"\n" {
		t.Errorf("following output = %q", out)
	}
	if out := c.mustRun("", "follow", bob.User.ID); out != "Unfollowed "+bob.User.ID+"\n" {
		t.Errorf("second follow output = %q", out)
	}
	if out := c.mustRun("", "following"); out != "" {
		t.Errorf("following after unfollow = %q", out)
	}
}

func TestClient_FollowSelfIsRejected(t *testing.T) {
	b := testutil.NewBackend(t)
	c := newCLI(t, b)
	c.mustRun("password123\n", "signup", "--email", "alice@example.com")
	id := strings.Fields(c.mustRun("", "whoami"))[0]

	_, err := c.run("", "follow", id)
	if err == nil || !strings.Contains(err.Error(), "yourself") {
		t.Errorf("follow self error = %v", err)
	}
}

func TestClient_SaveToggleAndList(t *testing.T) {
	b := testutil.NewBackend(t)
	bob := b.SignUp(t, "bob@example.com")
	p := b.CreatePost(t, bob.User.ID, "sunset", time.Now())
	c := newCLI(t, b)
	c.mustRun("password123\n", "signup", "--email", "alice@example.com")

	if out := c.mustRun("", "save", p.ID); out != "Saved "+p.ID+"\n" {
		t.Errorf("save output = %q", out)
	}
	if out := c.mustRun("", "saved"); out != p.ID+"\n" {
		t.Errorf("saved output = %q", out)
	}
	if out := c.mustRun("", "save", p.ID); out != "Unsaved "+p.ID+"\n" {
		t.Errorf("second save output = %q", out)
	}

	if _, err := c.run("", "save", uuid.NewString()); err == nil {
		t.Error("saving a missing post succeeded")
	}
}

func TestClient_RelationCommandsRequireSignIn(t *testing.T) {
	b := testutil.NewBackend(t)
	c := newCLI(t, b)

	for _, args := range [][]string{
		{"follow", uuid.NewString()},
		{"save", uuid.NewString()},
		{"following"},
		{"saved"},
	} {
		if _, err := c.run("", args...); !errors.Is(err, errNotSignedIn) {
			t.Errorf("%v error = %v, want errNotSignedIn", args, err)
		}
	}
}

func TestClient_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gateway: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	root := NewRootCommand()
	root.SetArgs([]string{"--config", path, "whoami"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.ExecuteContext(context.Background()); err == nil || !strings.Contains(err.Error(), "unknown gateway") {
		t.Errorf("error = %v, want unknown gateway", err)
	}
}

func TestFeedDeps_FollowReachesFilterWithoutReload(t *testing.T) {
	b := testutil.NewBackend(t)
	bob := b.SignUp(t, "bob@example.com")
	carol := b.SignUp(t, "carol@example.com")
	cl := newCLI(t, b)
	cl.mustRun("password123\n", "signup", "--email", "alice@example.com")
	cl.mustRun("", "follow", carol.User.ID)

	ctx := context.Background()
	c, err := openClient(ctx, &rootOptions{configPath: cl.configPath}, io.Discard)
	if err != nil {
		t.Fatalf("openClient error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	deps, closeDeps := feedDeps(c)
	t.Cleanup(closeDeps)
	if deps.Following == deps.FollowFilter {
		t.Fatal("filter shares the Following instance")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !deps.Following.IsMember(carol.User.ID) || !deps.FollowFilter.IsMember(carol.User.ID) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the initial load")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res, err := deps.Following.Toggle(ctx, bob.User.ID)
	if err != nil || !res.Member {
		t.Fatalf("Toggle = %+v, %v; want following", res, err)
	}
	// Busで同期するため、Toggleが戻った時点で反映されている
	if !deps.FollowFilter.IsMember(bob.User.ID) {
		t.Error("filter cache did not apply the follow")
	}
}
