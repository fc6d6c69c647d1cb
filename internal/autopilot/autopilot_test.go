package autopilot

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/host548/telegram-spam-panel/internal/storage"
	"github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

type stubClient struct {
	mu      sync.Mutex
	dialogs []telegram.Dialog
	sent    []int64
}

func (s *stubClient) Connect(context.Context, string) error            { return nil }
func (s *stubClient) Disconnect(context.Context) error                 { return nil }
func (s *stubClient) SendCode(context.Context, string) (string, error) { return "h", nil }
func (s *stubClient) SignIn(context.Context, string, string, string) error {
	return nil
}
func (s *stubClient) Password(context.Context, string) error { return nil }
func (s *stubClient) Self(context.Context) error             { return nil }
func (s *stubClient) Dialogs(context.Context, int) ([]telegram.Dialog, error) {
	return s.dialogs, nil
}

func (s *stubClient) SendScheduled(_ context.Context, peerID int64, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, peerID)
	return nil
}

func (s *stubClient) SendScheduledFile(ctx context.Context, peerID int64, _ telegram.Attachment, _ string, at time.Time) error {
	return s.SendScheduled(ctx, peerID, "", at)
}
func (s *stubClient) ExportToken(context.Context) (string, error) { return "tok", nil }
func (s *stubClient) RemoveLocalSession() error                   { return nil }

type stubFactory struct{ client *stubClient }

func (f *stubFactory) New(int64, string) telegram.Client { return f.client }
func (f *stubFactory) RemoveArtifact(int64) error        { return nil }

func newTestService(t *testing.T, client *stubClient) (*Service, *storage.Store, *telegram.Manager, *[]string) {
	t.Helper()
	store, err := storage.Open(storage.Config{
		Path: filepath.Join(t.TempDir(), "panel.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	manager := telegram.NewManager(&stubFactory{client: client}, telegram.Options{
		DialogTimeout: time.Second,
		MaxConcurrent: 4,
		SendDelay:     time.Millisecond,
	}, logx.Nop())

	notices := &[]string{}
	var mu sync.Mutex
	svc := New(Config{
		Enabled:         true,
		DefaultSchedule: "@every 1h",
		SendDelay:       time.Second,
		RefreshInterval: time.Hour,
	}, store, manager, func(msg string) {
		mu.Lock()
		*notices = append(*notices, msg)
		mu.Unlock()
	}, logx.Nop())
	return svc, store, manager, notices
}

func (s *Service) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestRefreshReconcilesEntries(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t, &stubClient{})
	ctx := context.Background()

	for _, st := range []storage.Settings{
		{UserID: 1, AutoBroadcast: true, BroadcastText: "hi"},
		{UserID: 2, AutoBroadcast: true, BroadcastText: "yo", BroadcastSchedule: "30 9 * * *"},
		{UserID: 3, AutoBroadcast: false, BroadcastText: "no"},
	} {
		if err := store.SaveSettings(ctx, st); err != nil {
			t.Fatalf("SaveSettings(%d): %v", st.UserID, err)
		}
	}

	svc.Start(ctx)
	t.Cleanup(func() { svc.Stop(context.Background()) })

	if got := svc.entryCount(); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}

	// Disable one; the entry disappears on the next reconcile.
	if err := store.SaveSettings(ctx, storage.Settings{UserID: 2, AutoBroadcast: false, BroadcastText: "yo"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	svc.refresh(ctx)
	if got := svc.entryCount(); got != 1 {
		t.Fatalf("entries after disable = %d, want 1", got)
	}
}

func TestRefreshSkipsBadSchedule(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t, &stubClient{})
	ctx := context.Background()

	if err := store.SaveSettings(ctx, storage.Settings{
		UserID: 1, AutoBroadcast: true, BroadcastText: "hi", BroadcastSchedule: "whenever",
	}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	svc.Start(ctx)
	t.Cleanup(func() { svc.Stop(context.Background()) })

	if got := svc.entryCount(); got != 0 {
		t.Fatalf("entries = %d, want 0 for unparseable schedule", got)
	}
}

func TestFireBroadcastsStoredText(t *testing.T) {
	t.Parallel()
	client := &stubClient{dialogs: []telegram.Dialog{
		{ID: 1, Kind: telegram.DialogPrivate},
		{ID: -2, Kind: telegram.DialogGroup},
	}}
	svc, store, manager, notices := newTestService(t, client)
	ctx := context.Background()

	if err := store.SaveSettings(ctx, storage.Settings{
		UserID: 9, AutoBroadcast: true, BroadcastText: "daily",
	}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if _, err := manager.CreateSession(ctx, 9, "+15551230009", "tok"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	svc.fire(9)

	client.mu.Lock()
	sent := len(client.sent)
	client.mu.Unlock()
	if sent != 2 {
		t.Fatalf("sends = %d, want 2", sent)
	}

	records, err := store.ListBroadcasts(ctx, 9, 0)
	if err != nil {
		t.Fatalf("ListBroadcasts: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("history records = %d, want 1", len(records))
	}
	if records[0].Total != 2 || records[0].Successful != 2 || records[0].Failed != 0 {
		t.Fatalf("record tally = %+v", records[0])
	}
	if len(*notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(*notices))
	}
}

func TestFireWithoutLiveSessionIsNoop(t *testing.T) {
	t.Parallel()
	client := &stubClient{dialogs: []telegram.Dialog{{ID: 1, Kind: telegram.DialogPrivate}}}
	svc, store, _, notices := newTestService(t, client)
	ctx := context.Background()

	if err := store.SaveSettings(ctx, storage.Settings{
		UserID: 9, AutoBroadcast: true, BroadcastText: "daily",
	}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	svc.fire(9)
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.sent) != 0 {
		t.Fatalf("sends = %d, want 0", len(client.sent))
	}
	if len(*notices) != 0 {
		t.Fatalf("notices = %d, want 0", len(*notices))
	}
}
