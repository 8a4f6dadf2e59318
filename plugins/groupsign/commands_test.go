package groupsign

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"signbot/internal/core"
	"signbot/internal/kit"
)

type replyRecorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *replyRecorder) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (r *replyRecorder) Stop(ctx context.Context) error                         { return nil }
func (r *replyRecorder) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (r *replyRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1]
}

const facadeConfig = `telegram:
  token: "t"
  owner_user_ids: [1]
logging:
  level: error
scheduler:
  enabled: false
notify:
  enabled: false
plugins:
  groupsign:
    enabled: true
    config:
      sign:
        groups: ["123456"]
      permissions:
        admin_user_ids: [42]
      api:
        host: "127.0.0.1"
        port: 1
`

func newTestPlugin(t *testing.T) (*Plugin, *replyRecorder) {
	t.Helper()
	store, _ := newTestStoreWith(t, facadeConfig)

	ad := &replyRecorder{}
	p := New()
	deps := core.PluginDeps{
		Logger:   testLogger(),
		Adapter:  ad,
		Config:   store.cfgm,
		Services: &core.Services{},
	}
	if err := p.Init(context.Background(), deps); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.runCancel() })
	return p, ad
}

func facadeRequest(fromID int64, chatType string, args ...string) *core.Request {
	return &core.Request{
		Chat:        kit.ChatTarget{ChatID: -9},
		FromID:      fromID,
		ChatType:    chatType,
		Args:        args,
		Logger:      testLogger(),
		OwnerUserID: []int64{1},
	}
}

func TestCommandsRequireGroupChat(t *testing.T) {
	t.Parallel()
	p, ad := newTestPlugin(t)

	req := facadeRequest(42, "private", "999999")
	req.Adapter = ad
	if err := p.cmdAddGroup(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "group chat") {
		t.Errorf("reply = %q, want group-chat rejection", ad.last())
	}
	if len(p.store.Groups()) != 1 {
		t.Error("rejected command still mutated the list")
	}
}

func TestCommandsRequireAdmin(t *testing.T) {
	t.Parallel()
	p, ad := newTestPlugin(t)

	req := facadeRequest(777, "group", "999999")
	req.Adapter = ad
	if err := p.cmdAddGroup(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "admin") {
		t.Errorf("reply = %q, want admin rejection", ad.last())
	}
}

func TestOwnerCountsAsAdmin(t *testing.T) {
	t.Parallel()
	p, ad := newTestPlugin(t)

	req := facadeRequest(1, "group", "999999")
	req.Adapter = ad
	if err := p.cmdAddGroup(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "added") {
		t.Errorf("reply = %q", ad.last())
	}
}

func TestAddRemoveListFlow(t *testing.T) {
	t.Parallel()
	p, ad := newTestPlugin(t)
	ctx := context.Background()

	add := facadeRequest(42, "group", "999999")
	add.Adapter = ad
	if err := p.cmdAddGroup(ctx, add); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "added") {
		t.Fatalf("add reply = %q", ad.last())
	}

	// duplicate add signals "already"
	if err := p.cmdAddGroup(ctx, add); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "already") {
		t.Errorf("dup add reply = %q", ad.last())
	}

	list := facadeRequest(555, "private")
	list.Adapter = ad
	if err := p.cmdListGroups(ctx, list); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "999999") || !strings.Contains(ad.last(), "123456") {
		t.Errorf("list reply = %q", ad.last())
	}

	rm := facadeRequest(42, "group", "999999")
	rm.Adapter = ad
	if err := p.cmdRemoveGroup(ctx, rm); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "removed") {
		t.Errorf("remove reply = %q", ad.last())
	}
	if err := p.cmdRemoveGroup(ctx, rm); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "not on the list") {
		t.Errorf("second remove reply = %q", ad.last())
	}
}

func TestExecuteRejectsNonMember(t *testing.T) {
	t.Parallel()
	p, ad := newTestPlugin(t)

	req := facadeRequest(42, "group", "888888")
	req.Adapter = ad
	if err := p.cmdExecute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "not on the list") {
		t.Errorf("reply = %q", ad.last())
	}
}

func TestExecuteSingleGroup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "retcode": 0})
	}))
	defer srv.Close()

	p, ad := newTestPlugin(t)
	// point the client at the fake API
	p.mu.Lock()
	p.client = clientAt(t, srv)()
	p.mu.Unlock()

	req := facadeRequest(42, "group", "123456")
	req.Adapter = ad
	if err := p.cmdExecute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "checked in") {
		t.Errorf("reply = %q", ad.last())
	}
}

func TestStatusOpenToEveryone(t *testing.T) {
	t.Parallel()
	p, ad := newTestPlugin(t)

	req := facadeRequest(31337, "private")
	req.Adapter = ad
	if err := p.cmdStatus(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	reply := ad.last()
	if !strings.Contains(reply, "stopped") {
		t.Errorf("status reply = %q", reply)
	}
	if !strings.Contains(reply, "09:00") {
		t.Errorf("status should show the daily time: %q", reply)
	}
}

func TestStartStopCommands(t *testing.T) {
	t.Parallel()
	p, ad := newTestPlugin(t)
	ctx := context.Background()

	start := facadeRequest(42, "group")
	start.Adapter = ad
	if err := p.cmdStartTask(ctx, start); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "started") {
		t.Fatalf("start reply = %q", ad.last())
	}
	if err := p.cmdStartTask(ctx, start); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "already running") {
		t.Errorf("double start reply = %q", ad.last())
	}

	stop := facadeRequest(42, "group")
	stop.Adapter = ad
	if err := p.cmdStopTask(ctx, stop); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "stopped") {
		t.Fatalf("stop reply = %q", ad.last())
	}
	if err := p.cmdStopTask(ctx, stop); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.last(), "not running") {
		t.Errorf("double stop reply = %q", ad.last())
	}
}
