package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

// State tracks where a handle is in the authentication protocol.
type State int

const (
	StateNotConnected State = iota
	StateConnected
	StateAwaitingCode
	StateAwaitingPassword
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateConnected:
		return "connected"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAwaitingPassword:
		return "awaiting_password"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Userbot manages exactly one provider connection for one account and
// drives its authentication sub-protocol.
//
// All state-mutating operations serialize on mu, so no two
// connect/authenticate calls ever interleave on the same handle.
// Broadcast sends run outside the guard; the transport's own
// multiplexing handles concurrent reads.
type Userbot struct {
	key   int64
	phone string

	factory Factory
	log     logx.Logger

	mu         sync.Mutex
	client     Client
	state      State
	authorized bool

	optMu sync.RWMutex
	opts  Options
}

func NewUserbot(key int64, phone string, factory Factory, opts Options, log logx.Logger) *Userbot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Userbot{
		key:     key,
		phone:   phone,
		factory: factory,
		opts:    opts.withDefaults(),
		log:     log.With(logx.Int64("account", key)),
	}
}

func (u *Userbot) Key() int64    { return u.key }
func (u *Userbot) Phone() string { return u.phone }

// SetOptions swaps the runtime tunables; in-flight operations keep the
// snapshot they started with.
func (u *Userbot) SetOptions(opts Options) {
	u.optMu.Lock()
	u.opts = opts.withDefaults()
	u.optMu.Unlock()
}

func (u *Userbot) options() Options {
	u.optMu.RLock()
	defer u.optMu.RUnlock()
	return u.opts
}

// State reports the handle's current position in the auth protocol.
func (u *Userbot) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Authorized reports the in-memory authorization flag.
func (u *Userbot) Authorized() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.authorized
}

// Connect establishes the underlying connection, resuming from token
// when one is supplied. If the handle is already connected the old
// transport is torn down first. When no token is given and the locally
// cached session artifact turns out to be corrupt, the artifact is
// discarded and the connect retried once.
func (u *Userbot) Connect(ctx context.Context, token string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connectLocked(ctx, token)
}

func (u *Userbot) connectLocked(ctx context.Context, token string) error {
	if u.client != nil {
		if err := u.client.Disconnect(ctx); err != nil {
			u.log.Warn("disconnect before reconnect failed", logx.Err(err))
		}
		u.client = nil
		u.state = StateNotConnected
		u.authorized = false
	}

	c := u.factory.New(u.key, u.phone)
	err := c.Connect(ctx, token)
	if err != nil && token == "" && errors.Is(err, ErrCorruptSession) {
		u.log.Warn("session artifact corrupt; discarding and retrying", logx.Err(err))
		if rmErr := c.RemoveLocalSession(); rmErr != nil {
			u.log.Warn("artifact removal failed", logx.Err(rmErr))
		}
		err = c.Connect(ctx, token)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	u.client = c
	u.state = StateConnected
	return nil
}

// RequestCode asks the provider to deliver a one-time code to the
// handle's phone and returns the correlation hash needed to submit it.
// On a DC redirect the handle reconnects and retries exactly once.
func (u *Userbot) RequestCode(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client == nil {
		return "", ErrNotConnected
	}
	hash, err := u.client.SendCode(ctx, u.phone)
	if err != nil && IsMigrate(err) {
		u.log.Info("dc migration required; reconnecting", logx.String("phone", u.phone))
		if err := u.connectLocked(ctx, ""); err != nil {
			return "", err
		}
		hash, err = u.client.SendCode(ctx, u.phone)
	}
	if err != nil {
		return "", fmt.Errorf("request code: %w", err)
	}
	u.state = StateAwaitingCode
	return hash, nil
}

// SubmitCode completes sign-in with the delivered code and its
// correlation hash. A wrong code is reported in the result, not as a
// returned error, so the caller can re-prompt.
func (u *Userbot) SubmitCode(ctx context.Context, code, codeHash string) SignInResult {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client == nil {
		return SignInResult{Status: SignInFailed, Err: ErrNotConnected}
	}
	err := u.client.SignIn(ctx, u.phone, code, codeHash)
	switch {
	case err == nil:
		u.authorized = true
		u.state = StateAuthorized
		return SignInResult{Status: SignInAuthorized}
	case errors.Is(err, ErrPasswordNeeded):
		u.state = StateAwaitingPassword
		return SignInResult{Status: SignInPasswordNeeded}
	default:
		u.authorized = false
		return SignInResult{Status: SignInFailed, Err: fmt.Errorf("%w: %w", ErrAuthRejected, err)}
	}
}

// SubmitPassword completes two-factor sign-in. A wrong password leaves
// the handle awaiting another attempt.
func (u *Userbot) SubmitPassword(ctx context.Context, password string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client == nil {
		return false
	}
	if err := u.client.Password(ctx, password); err != nil {
		u.authorized = false
		u.log.Debug("password rejected", logx.Err(err))
		return false
	}
	u.authorized = true
	u.state = StateAuthorized
	return true
}

// CheckSession probes the live connection's identity. It returns false
// and clears the authorization flag on revoked/deactivated signals or
// transport loss, without surfacing those as errors.
func (u *Userbot) CheckSession(ctx context.Context) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.checkSessionLocked(ctx)
}

func (u *Userbot) checkSessionLocked(ctx context.Context) bool {
	if u.client == nil {
		return false
	}
	err := u.client.Self(ctx)
	if err == nil {
		u.authorized = true
		u.state = StateAuthorized
		return true
	}
	u.authorized = false
	if u.state == StateAuthorized {
		u.state = StateConnected
	}
	if errors.Is(err, ErrSessionRevoked) || errors.Is(err, ErrTransport) || errors.Is(err, ErrNotConnected) {
		return false
	}
	u.log.Warn("session probe failed", logx.Err(err))
	return false
}

// Dialogs enumerates up to the configured limit of conversations.
// The whole listing runs under a hard wall-clock budget; exceeding it
// fails with ErrTimeout rather than returning partial results.
func (u *Userbot) Dialogs(ctx context.Context) ([]Dialog, error) {
	if !u.CheckSession(ctx) {
		return nil, ErrSessionInvalid
	}
	opts := u.options()

	u.mu.Lock()
	c := u.client
	u.mu.Unlock()
	if c == nil {
		return nil, ErrNotConnected
	}

	lctx, cancel := context.WithTimeout(ctx, opts.DialogTimeout)
	defer cancel()

	dialogs, err := c.Dialogs(lctx, opts.DialogLimit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(lctx.Err(), context.DeadlineExceeded) {
			u.log.Error("dialog listing exceeded budget", logx.Duration("budget", opts.DialogTimeout))
			return nil, fmt.Errorf("%w: dialog listing after %s", ErrTimeout, opts.DialogTimeout)
		}
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	u.log.Info("dialogs loaded", logx.Int("count", len(dialogs)))
	return dialogs, nil
}

// Schedule submits one message for future delivery. It returns false
// without error when there is nothing to send, and false after
// sleeping the mandated cooldown when the provider rate-limits the
// call; the send is not retried here.
func (u *Userbot) Schedule(ctx context.Context, chatID int64, text string, at time.Time, att *Attachment) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.checkSessionLocked(ctx) {
		return false, ErrSessionInvalid
	}

	var err error
	switch {
	case att != nil:
		err = u.client.SendScheduledFile(ctx, chatID, *att, text, at)
	case strings.TrimSpace(text) == "":
		return false, nil
	default:
		err = u.client.SendScheduled(ctx, chatID, text, at)
	}
	if err == nil {
		return true, nil
	}

	if wait, ok := AsFloodWait(err); ok {
		u.log.Warn("rate limited; sleeping mandated cooldown", logx.Duration("wait", wait), logx.Int64("chat_id", chatID))
		sleepCtx(ctx, wait)
		return false, nil
	}
	if errors.Is(err, ErrSessionRevoked) {
		u.authorized = false
		u.state = StateConnected
		return false, ErrSessionRevoked
	}
	u.log.Error("scheduled send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	return false, nil
}

// ExportToken serializes the authorized session into an opaque
// credential token for the caller to persist. The handle itself never
// writes it anywhere durable.
func (u *Userbot) ExportToken(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client == nil {
		return "", ErrNotConnected
	}
	return u.client.ExportToken(ctx)
}

// Disconnect releases the underlying connection. It is idempotent and
// never returns an error; failures are logged and swallowed.
func (u *Userbot) Disconnect(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client != nil {
		if err := u.client.Disconnect(ctx); err != nil {
			u.log.Error("disconnect failed", logx.Err(err))
		}
	}
	u.client = nil
	u.authorized = false
	u.state = StateNotConnected
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
