package groupsign

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"signbot/internal/core"
)

const storeTestConfig = `telegram:
  token: "test-token"
  owner_user_ids: [42]
  poll_timeout: "10s"
logging:
  level: info
  console: true
scheduler:
  enabled: true
  workers: 2
  default_timeout: "1m"
notify:
  enabled: false
plugins:
  groupsign:
    enabled: true
    config:
      sign:
        groups: ["123456"]
        check_interval: 1800
        reminder_time: "08:30"
      messages:
        sign_reminder: "custom reminder for %d groups"
      api:
        host: "127.0.0.1"
        port: 3000
`

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	return newTestStoreWith(t, storeTestConfig)
}

func newTestStoreWith(t *testing.T, content string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgm := core.NewConfigManager(path)
	if _, err := cfgm.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	return NewStore(cfgm), path
}

func TestStoreAddRemove(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	if got := store.Groups(); len(got) != 1 || got[0] != "123456" {
		t.Fatalf("initial groups = %v", got)
	}

	if err := store.Add("999999"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := store.Groups(); len(got) != 2 {
		t.Fatalf("after add groups = %v", got)
	}

	if err := store.Add("999999"); !errors.Is(err, ErrAlreadyPresent) {
		t.Errorf("duplicate add err = %v, want ErrAlreadyPresent", err)
	}

	if err := store.Remove("999999"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove("999999"); !errors.Is(err, ErrNotPresent) {
		t.Errorf("second remove err = %v, want ErrNotPresent", err)
	}
	if got := store.Groups(); len(got) != 1 || got[0] != "123456" {
		t.Errorf("final groups = %v", got)
	}
}

func TestStoreRejectsBadGroupID(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	bad := []string{"", "abc", "1234", "0123456", "12345678901234", "12 34 56", "-123456"}
	for _, id := range bad {
		if err := store.Add(id); !errors.Is(err, ErrBadGroupID) {
			t.Errorf("Add(%q) err = %v, want ErrBadGroupID", id, err)
		}
		if err := store.Remove(id); !errors.Is(err, ErrBadGroupID) {
			t.Errorf("Remove(%q) err = %v, want ErrBadGroupID", id, err)
		}
	}

	good := []string{"12345", "123456", "12345678901"}
	for _, id := range good {
		if !groupIDRe.MatchString(id) {
			t.Errorf("groupIDRe rejected valid id %q", id)
		}
	}
}

func TestStoreMutationPreservesOtherSections(t *testing.T) {
	t.Parallel()
	store, path := newTestStore(t)

	if err := store.Add("777777"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)

	for _, want := range []string{
		"test-token",
		"custom reminder for %d groups",
		"777777",
		"123456",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("rewritten config lost %q", want)
		}
	}
}

func TestStoreMutationVisibleWithoutWatcher(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	if err := store.Add("888888"); err != nil {
		t.Fatal(err)
	}
	// The in-memory snapshot must already include the new group; nothing
	// waits for the fsnotify round-trip.
	found := false
	for _, g := range store.Groups() {
		if g == "888888" {
			found = true
		}
	}
	if !found {
		t.Error("mutation not visible through Get() immediately after Add")
	}
}

func TestStoreDefaultsWhenSectionMissing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	minimal := `telegram:
  token: "x"
logging:
  level: info
scheduler:
  enabled: false
notify:
  enabled: false
plugins: {}
`
	if err := os.WriteFile(path, []byte(minimal), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgm := core.NewConfigManager(path)
	if _, err := cfgm.Load(); err != nil {
		t.Fatal(err)
	}
	store := NewStore(cfgm)

	cfg := store.snapshot()
	if cfg.Sign.Groups == nil || len(cfg.Sign.Groups) != 0 {
		t.Errorf("default groups = %v, want empty non-nil", cfg.Sign.Groups)
	}
	if cfg.Sign.CheckInterval != defaultCheckInterval {
		t.Errorf("default interval = %d", cfg.Sign.CheckInterval)
	}
	if cfg.Sign.ReminderTime != defaultReminderTime {
		t.Errorf("default reminder time = %q", cfg.Sign.ReminderTime)
	}

	// Adding to a missing section creates it.
	if err := store.Add("123456"); err != nil {
		t.Fatalf("add into missing section: %v", err)
	}
}
