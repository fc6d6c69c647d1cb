// Package telegram is the session lifecycle core: it owns per-account
// connection handles, their authentication state machine, and the
// concurrent broadcast fan-out. It depends on the MTProto transport
// only through the Client capability interface.
package telegram
