package telegram

import (
	"context"
	"fmt"
	"sync"

	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

// Manager is the process-wide registry of connection handles, one per
// account key. It is injected into the layers that need it rather than
// living as a package global.
type Manager struct {
	factory Factory
	log     logx.Logger

	mu   sync.RWMutex
	bots map[int64]*Userbot
	opts Options
}

func NewManager(factory Factory, opts Options, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		factory: factory,
		log:     log,
		bots:    map[int64]*Userbot{},
		opts:    opts.withDefaults(),
	}
}

// Apply swaps the runtime tunables for every existing handle and for
// handles created afterwards.
func (m *Manager) Apply(opts Options) {
	opts = opts.withDefaults()
	m.mu.Lock()
	m.opts = opts
	bots := make([]*Userbot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.mu.Unlock()
	for _, b := range bots {
		b.SetOptions(opts)
	}
}

// CreateSession builds a handle for the account, connects it (resuming
// from token when given) and registers it. An existing handle for the
// same key is fully disconnected and replaced, never left dangling.
func (m *Manager) CreateSession(ctx context.Context, key int64, phone, token string) (*Userbot, error) {
	m.mu.RLock()
	opts := m.opts
	m.mu.RUnlock()

	bot := NewUserbot(key, phone, m.factory, opts, m.log)
	if err := bot.Connect(ctx, token); err != nil {
		return nil, fmt.Errorf("create session for account %d: %w", key, err)
	}

	m.mu.Lock()
	old := m.bots[key]
	m.bots[key] = bot
	m.mu.Unlock()

	if old != nil {
		m.log.Info("replacing existing session", logx.Int64("account", key))
		old.Disconnect(ctx)
	}
	return bot, nil
}

// GetSession returns the existing handle for key, never creating one
// as a side effect.
func (m *Manager) GetSession(key int64) (*Userbot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bot, ok := m.bots[key]
	return bot, ok
}

// RemoveSession disconnects and forgets the handle for key, and drops
// any locally cached session artifact tied to it. Absent keys are a
// no-op, not an error.
func (m *Manager) RemoveSession(ctx context.Context, key int64) {
	m.mu.Lock()
	bot := m.bots[key]
	delete(m.bots, key)
	m.mu.Unlock()

	if bot != nil {
		bot.Disconnect(ctx)
	}
	if err := m.factory.RemoveArtifact(key); err != nil {
		m.log.Warn("session artifact removal failed", logx.Int64("account", key), logx.Err(err))
	}
}

// RestoreAll re-establishes handles from previously saved credential
// tokens at process start. One bad credential never blocks the rest;
// failures are logged and skipped. Returns how many accounts came back.
func (m *Manager) RestoreAll(ctx context.Context, accounts []SavedAccount) int {
	restored := 0
	for _, acc := range accounts {
		if acc.Token == "" {
			m.log.Debug("skipping account without token", logx.Int64("account", acc.Key))
			continue
		}
		if _, err := m.CreateSession(ctx, acc.Key, acc.Phone, acc.Token); err != nil {
			m.log.Warn("session restore failed", logx.Int64("account", acc.Key), logx.Err(err))
			continue
		}
		restored++
	}
	m.log.Info("session restore finished", logx.Int("requested", len(accounts)), logx.Int("restored", restored))
	return restored
}

// CleanupAll removes every session; used on shutdown.
func (m *Manager) CleanupAll(ctx context.Context) {
	m.mu.RLock()
	keys := make([]int64, 0, len(m.bots))
	for k := range m.bots {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	for _, k := range keys {
		m.RemoveSession(ctx, k)
	}
}
