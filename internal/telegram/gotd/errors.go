package gotd

import (
	"errors"

	"github.com/gotd/td/tgerr"

	tgcore "github.com/host548/telegram-spam-panel/internal/telegram"
)

// translate maps gotd/tg RPC errors onto the core's error taxonomy.
// Errors with no mapping pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &tgcore.FloodWaitError{RetryAfter: wait}
	}
	if rpc, ok := tgerr.As(err); ok {
		switch {
		case rpc.IsType("PHONE_MIGRATE"), rpc.IsType("NETWORK_MIGRATE"), rpc.IsType("USER_MIGRATE"):
			return &tgcore.MigrateError{DC: rpc.Argument}
		}
	}
	if isRevoked(err) {
		return tgcore.ErrSessionRevoked
	}
	return err
}

// isRevoked reports permanently-invalid credential signals: the caller
// must re-authenticate from scratch, retrying is pointless.
func isRevoked(err error) bool {
	return tgerr.Is(err,
		"AUTH_KEY_UNREGISTERED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
	)
}

func isAuthReject(err error) bool {
	return tgerr.Is(err,
		"PHONE_CODE_INVALID",
		"PHONE_CODE_EXPIRED",
		"PASSWORD_HASH_INVALID",
	)
}

var errNotRunning = errors.New("gotd: client not running")
