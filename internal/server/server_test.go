package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/host548/telegram-spam-panel/internal/storage"
	"github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

// stubClient is a scripted transport double for exercising the HTTP
// surface end to end without a real provider.
type stubClient struct {
	mu sync.Mutex

	signInErr error
	passErr   error
	selfErr   error
	dialogs   []telegram.Dialog
	sendErr   func(peerID int64) error
	sent      []int64
}

func (s *stubClient) Connect(context.Context, string) error { return nil }
func (s *stubClient) Disconnect(context.Context) error      { return nil }
func (s *stubClient) SendCode(context.Context, string) (string, error) {
	return "hash-1", nil
}
func (s *stubClient) SignIn(context.Context, string, string, string) error { return s.signInErr }
func (s *stubClient) Password(context.Context, string) error               { return s.passErr }
func (s *stubClient) Self(context.Context) error                           { return s.selfErr }
func (s *stubClient) Dialogs(context.Context, int) ([]telegram.Dialog, error) {
	return s.dialogs, nil
}

func (s *stubClient) SendScheduled(_ context.Context, peerID int64, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		if err := s.sendErr(peerID); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, peerID)
	return nil
}

func (s *stubClient) SendScheduledFile(ctx context.Context, peerID int64, _ telegram.Attachment, _ string, at time.Time) error {
	return s.SendScheduled(ctx, peerID, "", at)
}

func (s *stubClient) ExportToken(context.Context) (string, error) { return "tok-exported", nil }
func (s *stubClient) RemoveLocalSession() error                   { return nil }

type stubFactory struct {
	mu      sync.Mutex
	next    *stubClient
	clients []*stubClient
}

func (f *stubFactory) New(int64, string) telegram.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.next
	if c == nil {
		c = &stubClient{}
	}
	f.next = nil
	f.clients = append(f.clients, c)
	return c
}

func (f *stubFactory) RemoveArtifact(int64) error { return nil }

type testEnv struct {
	router  http.Handler
	manager *telegram.Manager
	store   *storage.Store
	factory *stubFactory
	notices []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	factory := &stubFactory{}
	manager := telegram.NewManager(factory, telegram.Options{
		DialogTimeout: time.Second,
		MaxConcurrent: 4,
		SendDelay:     time.Millisecond,
	}, logx.Nop())
	store, err := storage.Open(storage.Config{
		Path: filepath.Join(t.TempDir(), "panel.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{manager: manager, store: store, factory: factory}
	env.router = NewRouter(Deps{
		Manager:        manager,
		Store:          store,
		Log:            logx.Nop(),
		AuthRatePerMin: 1000,
		Notify:         func(msg string) { env.notices = append(env.notices, msg) },
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/health = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/ = %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != "online" {
		t.Fatalf("status = %v, want online", got)
	}
}

func TestAuthFlowOverHTTP(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.factory.next = &stubClient{signInErr: telegram.ErrPasswordNeeded}

	w := env.do(t, http.MethodPost, "/auth/start", map[string]any{
		"user_id": 7, "phone": "+15551230000",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/auth/start = %d: %s", w.Code, w.Body.String())
	}
	hash, _ := decode(t, w)["phone_code_hash"].(string)
	if hash == "" {
		t.Fatal("missing phone_code_hash")
	}

	// Account phone persisted before authorization completes.
	acc, ok, err := env.store.GetAccount(context.Background(), 7)
	if err != nil || !ok {
		t.Fatalf("account not persisted: ok=%v err=%v", ok, err)
	}
	if acc.Authorized {
		t.Fatal("account authorized before sign-in")
	}

	w = env.do(t, http.MethodPost, "/auth/code", map[string]any{
		"user_id": 7, "code": "abc123", "phone_code_hash": hash,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/auth/code = %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["needs_password"]; got != true {
		t.Fatal("two-factor branch not reported")
	}

	w = env.do(t, http.MethodPost, "/auth/password", map[string]any{
		"user_id": 7, "password": "hunter2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/auth/password = %d: %s", w.Code, w.Body.String())
	}

	acc, _, err = env.store.GetAccount(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acc.Authorized || acc.Token != "tok-exported" {
		t.Fatalf("credential not persisted: %+v", acc)
	}

	w = env.do(t, http.MethodGet, "/auth/status/7", nil)
	if got := decode(t, w)["authorized"]; got != true {
		t.Fatalf("authorized = %v, want true", got)
	}
}

func TestAuthCodeUnknownSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/auth/code", map[string]any{
		"user_id": 99, "code": "abc", "phone_code_hash": "h",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestLogoutClearsCredential(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/auth/start", map[string]any{
		"user_id": 3, "phone": "+15551230003",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/auth/start = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/auth/code", map[string]any{
		"user_id": 3, "code": "abc123", "phone_code_hash": "hash-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/auth/code = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/auth/logout", map[string]any{"user_id": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("/auth/logout = %d", w.Code)
	}
	if _, ok := env.manager.GetSession(3); ok {
		t.Fatal("session survived logout")
	}
	acc, _, err := env.store.GetAccount(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Authorized || acc.Token != "" {
		t.Fatalf("credential survived logout: %+v", acc)
	}
}

func TestDialogsEndpointStats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.factory.next = &stubClient{dialogs: []telegram.Dialog{
		{ID: 1, Name: "alice", Kind: telegram.DialogPrivate},
		{ID: -2, Name: "team", Kind: telegram.DialogGroup},
		{ID: -3, Name: "news", Kind: telegram.DialogChannel},
		{ID: -4, Name: "dev", Kind: telegram.DialogGroup},
	}}
	if w := env.do(t, http.MethodPost, "/auth/start", map[string]any{
		"user_id": 5, "phone": "+15551230005",
	}); w.Code != http.StatusOK {
		t.Fatalf("/auth/start = %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/dialogs/5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/dialogs = %d: %s", w.Code, w.Body.String())
	}
	stats, _ := decode(t, w)["stats"].(map[string]any)
	if stats["total"] != float64(4) || stats["groups"] != float64(2) ||
		stats["private"] != float64(1) || stats["channels"] != float64(1) {
		t.Fatalf("stats = %v", stats)
	}

	w = env.do(t, http.MethodGet, "/dialogs/404", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown account = %d, want 404", w.Code)
	}
}

func TestBroadcastEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.factory.next = &stubClient{
		dialogs: []telegram.Dialog{
			{ID: 1, Kind: telegram.DialogPrivate},
			{ID: -2, Kind: telegram.DialogGroup},
			{ID: -3, Kind: telegram.DialogChannel},
		},
		sendErr: func(peerID int64) error {
			if peerID == -2 {
				return &telegram.FloodWaitError{RetryAfter: time.Hour}
			}
			return nil
		},
	}
	if w := env.do(t, http.MethodPost, "/auth/start", map[string]any{
		"user_id": 8, "phone": "+15551230008",
	}); w.Code != http.StatusOK {
		t.Fatalf("/auth/start = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/broadcast", map[string]any{
		"user_id": 8, "text": "hello", "delay_seconds": 60,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/broadcast = %d: %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["total"] != float64(3) || out["successful"] != float64(2) || out["failed"] != float64(1) {
		t.Fatalf("tally = %v", out)
	}
	if len(env.notices) != 1 {
		t.Fatalf("operator notices = %d, want 1", len(env.notices))
	}

	// Tally lands in the history.
	w = env.do(t, http.MethodGet, "/broadcasts/8", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/broadcasts = %d", w.Code)
	}
	records, _ := decode(t, w)["broadcasts"].([]any)
	if len(records) != 1 {
		t.Fatalf("history records = %d, want 1", len(records))
	}
}

func TestBroadcastEndpointChatFilter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	stub := &stubClient{dialogs: []telegram.Dialog{
		{ID: 1, Kind: telegram.DialogPrivate},
		{ID: -2, Kind: telegram.DialogGroup},
		{ID: -3, Kind: telegram.DialogChannel},
	}}
	env.factory.next = stub
	if w := env.do(t, http.MethodPost, "/auth/start", map[string]any{
		"user_id": 8, "phone": "+15551230008",
	}); w.Code != http.StatusOK {
		t.Fatalf("/auth/start = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/broadcast", map[string]any{
		"user_id": 8, "text": "hello", "chat_ids": []int64{-2},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/broadcast = %d: %s", w.Code, w.Body.String())
	}
	if out := decode(t, w); out["total"] != float64(1) {
		t.Fatalf("total = %v, want 1", out["total"])
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.sent) != 1 || stub.sent[0] != -2 {
		t.Fatalf("sent = %v, want [-2]", stub.sent)
	}
}

func TestTestMessageEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	stub := &stubClient{}
	env.factory.next = stub
	if w := env.do(t, http.MethodPost, "/auth/start", map[string]any{
		"user_id": 2, "phone": "+15551230002",
	}); w.Code != http.StatusOK {
		t.Fatalf("/auth/start = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/message/test", map[string]any{
		"user_id": 2, "chat_id": -77, "text": "ping",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/message/test = %d: %s", w.Code, w.Body.String())
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.sent) != 1 || stub.sent[0] != -77 {
		t.Fatalf("sent = %v, want [-77]", stub.sent)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Enabling without a text is rejected.
	w := env.do(t, http.MethodPost, "/settings/4/auto-broadcast", map[string]any{
		"enabled": true,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("enable without text = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/settings/4/auto-broadcast", map[string]any{
		"enabled": true, "text": "daily update", "schedule": "0 12 * * *",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("enable = %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/settings/4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get settings = %d", w.Code)
	}
	settings, _ := decode(t, w)["settings"].(map[string]any)
	if settings["auto_broadcast"] != true || settings["broadcast_text"] != "daily update" {
		t.Fatalf("settings = %v", settings)
	}

	// Disabling keeps the stored text.
	w = env.do(t, http.MethodPost, "/settings/4/auto-broadcast", map[string]any{
		"enabled": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("disable = %d", w.Code)
	}
	got, err := env.store.GetSettings(context.Background(), 4)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.AutoBroadcast || got.BroadcastText != "daily update" {
		t.Fatalf("settings after disable = %+v", got)
	}
}

func TestAuthRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	router := NewRouter(Deps{
		Manager:        env.manager,
		Store:          env.store,
		Log:            logx.Nop(),
		AuthRatePerMin: 2,
	})

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/start", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	for _, code := range codes[:2] {
		if code == http.StatusTooManyRequests {
			t.Fatalf("burst request limited early: %v", codes)
		}
	}
	if codes[2] != http.StatusTooManyRequests || codes[3] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want 429 after burst", codes)
	}

	// Non-auth endpoints stay unthrottled.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/health = %d after auth throttle", w.Code)
	}
}

func TestParseUserIDRejectsGarbage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	for _, path := range []string{"/dialogs/abc", "/dialogs/-5", "/settings/zero"} {
		if w := env.do(t, http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("%s = %d, want 400", path, w.Code)
		}
	}
}
