package telegram

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransport reports that the underlying connection could not be
	// established or was lost. Recoverable by reconnecting.
	ErrTransport = errors.New("telegram: transport failure")

	// ErrNotConnected is returned by operations that require a prior Connect.
	ErrNotConnected = errors.New("telegram: not connected")

	// ErrSessionInvalid means the identity probe failed; the caller must
	// re-authenticate before sending anything.
	ErrSessionInvalid = errors.New("telegram: session invalid")

	// ErrSessionRevoked means the credential is permanently invalid
	// (deactivated or unregistered account). Never silently retried.
	ErrSessionRevoked = errors.New("telegram: session revoked")

	// ErrPasswordNeeded signals the two-factor branch of sign-in.
	// It is a control-flow signal, not a failure.
	ErrPasswordNeeded = errors.New("telegram: two-factor password needed")

	// ErrAuthRejected means a wrong code or password. The connection
	// stays up; only the authorization flag is cleared.
	ErrAuthRejected = errors.New("telegram: authorization rejected")

	// ErrCorruptSession reports an unreadable locally cached session
	// artifact. The artifact is discarded and the connect retried once.
	ErrCorruptSession = errors.New("telegram: corrupt session artifact")

	// ErrTimeout reports that an operation with a time budget exceeded it.
	ErrTimeout = errors.New("telegram: operation timed out")
)

// FloodWaitError carries the cooldown the provider demands before the
// next call of the same kind.
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("telegram: flood wait %s", e.RetryAfter)
}

// AsFloodWait extracts the mandated wait duration from err, if any.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.RetryAfter, true
	}
	return 0, false
}

// MigrateError reports that the account lives on a different data
// center and the connection must be re-established there.
type MigrateError struct {
	DC int
}

func (e *MigrateError) Error() string {
	return fmt.Sprintf("telegram: account migrated to DC%d", e.DC)
}

// IsMigrate reports whether err is a DC redirect signal.
func IsMigrate(err error) bool {
	var me *MigrateError
	return errors.As(err, &me)
}
