package telegram

import (
	"context"
	"time"
)

// DialogKind classifies an addressable conversation.
type DialogKind string

const (
	DialogPrivate DialogKind = "private"
	DialogGroup   DialogKind = "group"
	DialogChannel DialogKind = "channel"
)

// Dialog describes one conversation the account can send to.
// Produced by listing, consumed read-only by the broadcast fan-out.
type Dialog struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Username string     `json:"username,omitempty"`
	Kind     DialogKind `json:"type"`
}

// Attachment is an optional file payload for a scheduled message.
type Attachment struct {
	Path       string
	Filename   string
	AsDocument bool
}

// SignInStatus is the outcome of submitting a verification code.
type SignInStatus int

const (
	SignInAuthorized SignInStatus = iota
	SignInPasswordNeeded
	SignInFailed
)

// SignInResult reports how a code submission ended. Err is set only
// for SignInFailed and carries enough detail to re-prompt the user.
type SignInResult struct {
	Status SignInStatus
	Err    error
}

// SavedAccount is one previously persisted account the registry can
// restore at process start.
type SavedAccount struct {
	Key   int64
	Phone string
	Token string
}

// SendFailure records why one destination failed during a broadcast.
type SendFailure struct {
	DialogID int64  `json:"dialog_id"`
	Reason   string `json:"reason"`
}

// BroadcastResult aggregates one fan-out pass. Successful+Failed always
// equals Total; per-destination ordering is not preserved.
type BroadcastResult struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Failures   []SendFailure `json:"failures,omitempty"`
}

// ProgressFunc is invoked after each completed send with running
// totals. Panics inside the callback are swallowed; a callback can
// never abort the broadcast.
type ProgressFunc func(done, total, successful, failed int)

// Options are the runtime tunables shared by all handles. The zero
// value falls back to the documented defaults.
type Options struct {
	DialogTimeout time.Duration
	DialogLimit   int
	MaxConcurrent int
	SendDelay     time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialogTimeout <= 0 {
		o.DialogTimeout = 30 * time.Second
	}
	if o.DialogLimit <= 0 {
		o.DialogLimit = 200
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 10
	}
	if o.SendDelay <= 0 {
		o.SendDelay = 100 * time.Millisecond
	}
	return o
}

// Client is the narrow capability surface of the MTProto transport the
// core depends on. Implementations own exactly one live connection;
// the core never reaches past this interface into transport internals,
// so tests substitute a scripted double.
type Client interface {
	// Connect establishes the transport. A non-empty token resumes a
	// previously exported session instead of a fresh login.
	Connect(ctx context.Context, token string) error

	// Disconnect releases the transport. Safe to call repeatedly.
	Disconnect(ctx context.Context) error

	// SendCode asks the provider to deliver a one-time code to phone and
	// returns the correlation hash required to submit it back.
	SendCode(ctx context.Context, phone string) (string, error)

	// SignIn completes code sign-in. Returns ErrPasswordNeeded when the
	// account has two-factor auth enabled.
	SignIn(ctx context.Context, phone, code, codeHash string) error

	// Password completes two-factor sign-in.
	Password(ctx context.Context, password string) error

	// Self performs a lightweight identity probe on the live connection.
	Self(ctx context.Context) error

	// Dialogs enumerates up to limit conversations, already classified.
	Dialogs(ctx context.Context, limit int) ([]Dialog, error)

	// SendScheduled submits one message for delivery at the given time.
	SendScheduled(ctx context.Context, peerID int64, text string, at time.Time) error

	// SendScheduledFile submits one file (with optional caption) for
	// delivery at the given time.
	SendScheduledFile(ctx context.Context, peerID int64, att Attachment, caption string, at time.Time) error

	// ExportToken serializes the authorized session state into an opaque
	// credential token the caller persists.
	ExportToken(ctx context.Context) (string, error)

	// RemoveLocalSession discards this client's locally cached session
	// artifact, if any.
	RemoveLocalSession() error
}

// Factory builds provider clients and manages their local artifacts.
type Factory interface {
	New(key int64, phone string) Client

	// RemoveArtifact deletes the locally cached session artifact for an
	// account key, whether or not a client currently exists for it.
	RemoveArtifact(key int64) error
}
