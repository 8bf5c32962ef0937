package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/harvest"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, maxAge time.Duration, clock harvest.Clock) *Store {
	t.Helper()
	store, err := New(Config{
		Root:              t.TempDir(),
		MaxAge:            maxAge,
		SensitivePrefixes: []string{"sess", "auth_"},
	}, clock, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestSaveRedactsSensitiveCookies(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	store := newTestStore(t, 24*time.Hour, clock)

	cookies := []harvest.Cookie{
		{Name: "SESSION_ID", Value: "secret", Domain: "example.com", Path: "/"},
		{Name: "auth_token", Value: "secret2", Domain: "example.com", Path: "/"},
		{Name: "pref_region", Value: "us-east", Domain: "example.com", Path: "/"},
	}
	if err := store.Save("obs1", "searchco", cookies); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load("obs1", "searchco")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "pref_region" {
		t.Fatalf("expected only the non-sensitive cookie, got %+v", got)
	}
}

func TestSaveEmptyIsNoOp(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	store := newTestStore(t, 24*time.Hour, clock)

	if err := store.Save("obs1", "searchco", nil); err != nil {
		t.Fatalf("Save(nil) error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.root, "obs1", "searchco.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no file to be written, stat err = %v", err)
	}
}

func TestLoadExpiredDeletesFile(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	store := newTestStore(t, 24*time.Hour, clock)

	cookies := []harvest.Cookie{{Name: "pref", Value: "v", Domain: "example.com", Path: "/"}}
	if err := store.Save("obs1", "searchco", cookies); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	clock.now = clock.now.Add(48 * time.Hour)
	got, err := store.Load("obs1", "searchco")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected expired session to load empty, got %+v", got)
	}
	if _, err := os.Stat(filepath.Join(store.root, "obs1", "searchco.json")); !os.IsNotExist(err) {
		t.Fatalf("expected expired file to be removed, stat err = %v", err)
	}
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	store := newTestStore(t, 24*time.Hour, clock)

	got, err := store.Load("obs1", "nowhere")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty load for missing file, got %+v err %v", got, err)
	}

	dir := filepath.Join(store.root, "obs1")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = store.Load("obs1", "broken")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected soft failure on corrupt file, got %+v err %v", got, err)
	}
}

func TestClearForms(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	store := newTestStore(t, 24*time.Hour, clock)

	cookies := []harvest.Cookie{{Name: "pref", Value: "v", Domain: "example.com", Path: "/"}}
	for _, pair := range [][2]string{{"obs1", "chanA"}, {"obs1", "chanB"}, {"obs2", "chanA"}} {
		if err := store.Save(pair[0], pair[1], cookies); err != nil {
			t.Fatalf("Save(%v) error = %v", pair, err)
		}
	}

	t.Run("single entry", func(t *testing.T) {
		if err := store.Clear("obs1", "chanA"); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if got, _ := store.Load("obs1", "chanA"); len(got) != 0 {
			t.Fatalf("expected cleared entry, got %+v", got)
		}
		if got, _ := store.Load("obs1", "chanB"); len(got) != 1 {
			t.Fatalf("expected sibling entry untouched, got %+v", got)
		}
	})

	t.Run("whole observer", func(t *testing.T) {
		if err := store.Clear("obs1", ""); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(store.root, "obs1")); !os.IsNotExist(err) {
			t.Fatalf("expected observer dir removed, stat err = %v", err)
		}
	})

	t.Run("everything", func(t *testing.T) {
		if err := store.Clear("", ""); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if got, _ := store.Load("obs2", "chanA"); len(got) != 0 {
			t.Fatalf("expected all entries cleared, got %+v", got)
		}
	})
}

func TestPathTraversalRejected(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now().UTC()}
	store := newTestStore(t, 24*time.Hour, clock)

	if err := store.Save("../evil", "chan", []harvest.Cookie{{Name: "a", Value: "b"}}); err == nil {
		t.Fatalf("expected error for traversal observer id")
	}
	if _, err := store.Load("obs", "..\\chan"); err == nil {
		t.Fatalf("expected error for traversal channel id")
	}
}
