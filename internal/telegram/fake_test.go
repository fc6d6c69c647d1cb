package telegram

import (
	"context"
	"sync"
	"time"
)

// fakeClient is a scripted transport double. Hooks default to success;
// tests override only what a scenario needs. Counters are guarded so
// broadcast tests can hammer it concurrently.
type fakeClient struct {
	mu sync.Mutex

	key   int64
	phone string

	onConnect func(attempt int, token string) error
	onSelf    func() error
	onSignIn  func(code, codeHash string) error
	onPass    func(password string) error
	onDialogs func(ctx context.Context, limit int) ([]Dialog, error)
	onSend    func(peerID int64) error

	codeHash     string
	sendCodeErrs []error

	token string

	connects    int
	disconnects int
	removals    int
	sent        []int64

	inFlight    int
	maxInFlight int
}

func (f *fakeClient) Connect(_ context.Context, token string) error {
	f.mu.Lock()
	f.connects++
	attempt := f.connects
	hook := f.onConnect
	f.mu.Unlock()
	if hook != nil {
		return hook(attempt, token)
	}
	return nil
}

func (f *fakeClient) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) SendCode(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	var err error
	if len(f.sendCodeErrs) > 0 {
		err = f.sendCodeErrs[0]
		f.sendCodeErrs = f.sendCodeErrs[1:]
	}
	hash := f.codeHash
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if hash == "" {
		hash = "hash-1"
	}
	return hash, nil
}

func (f *fakeClient) SignIn(_ context.Context, _, code, codeHash string) error {
	if f.onSignIn != nil {
		return f.onSignIn(code, codeHash)
	}
	return nil
}

func (f *fakeClient) Password(_ context.Context, password string) error {
	if f.onPass != nil {
		return f.onPass(password)
	}
	return nil
}

func (f *fakeClient) Self(context.Context) error {
	if f.onSelf != nil {
		return f.onSelf()
	}
	return nil
}

func (f *fakeClient) Dialogs(ctx context.Context, limit int) ([]Dialog, error) {
	if f.onDialogs != nil {
		return f.onDialogs(ctx, limit)
	}
	return nil, nil
}

func (f *fakeClient) SendScheduled(_ context.Context, peerID int64, _ string, _ time.Time) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	hook := f.onSend
	f.mu.Unlock()

	var err error
	if hook != nil {
		err = hook(peerID)
	}

	f.mu.Lock()
	f.inFlight--
	if err == nil {
		f.sent = append(f.sent, peerID)
	}
	f.mu.Unlock()
	return err
}

func (f *fakeClient) SendScheduledFile(_ context.Context, peerID int64, _ Attachment, _ string, _ time.Time) error {
	return f.SendScheduled(context.Background(), peerID, "", time.Time{})
}

func (f *fakeClient) ExportToken(context.Context) (string, error) {
	if f.token == "" {
		return "token-1", nil
	}
	return f.token, nil
}

func (f *fakeClient) RemoveLocalSession() error {
	f.mu.Lock()
	f.removals++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeClient) highWater() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// fakeFactory hands out fakeClients, one per New call, and remembers
// them so tests can inspect every client a handle ever built.
type fakeFactory struct {
	mu sync.Mutex

	build    func(key int64, phone string) *fakeClient
	clients  []*fakeClient
	removed  []int64
	rmErrors map[int64]error
}

func (f *fakeFactory) New(key int64, phone string) Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c *fakeClient
	if f.build != nil {
		c = f.build(key, phone)
	} else {
		c = &fakeClient{key: key, phone: phone}
	}
	f.clients = append(f.clients, c)
	return c
}

func (f *fakeFactory) RemoveArtifact(key int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	if f.rmErrors != nil {
		return f.rmErrors[key]
	}
	return nil
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.clients) {
		return nil
	}
	return f.clients[i]
}

func (f *fakeFactory) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func testOptions() Options {
	return Options{
		DialogTimeout: 200 * time.Millisecond,
		DialogLimit:   50,
		MaxConcurrent: 3,
		SendDelay:     time.Millisecond,
	}
}
