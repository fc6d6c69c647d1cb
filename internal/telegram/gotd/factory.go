// Package gotd implements the core's provider capability interface on
// top of github.com/gotd/td (MTProto). The core never sees gotd types;
// everything crossing the boundary is translated into the core's own
// dialogs and error taxonomy.
package gotd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	tgcore "github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

type Options struct {
	APIID   int
	APIHash string

	// SessionDir holds per-account session artifacts used when no
	// credential token is supplied at connect time.
	SessionDir string

	// ConnectTimeout bounds transport establishment. Defaults to 30s.
	ConnectTimeout time.Duration

	Log logx.Logger
}

// Factory builds one adapter client per connect attempt and owns the
// on-disk session artifact naming.
type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.SessionDir == "" {
		opts.SessionDir = "./sessions"
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Factory{opts: opts}
}

func (f *Factory) New(key int64, phone string) tgcore.Client {
	return &Client{
		opts:        f.opts,
		key:         key,
		phone:       phone,
		sessionPath: f.sessionPath(key),
		log:         f.opts.Log.With(logx.Int64("account", key)),
		peers:       map[int64]peerRef{},
	}
}

func (f *Factory) RemoveArtifact(key int64) error {
	err := os.Remove(f.sessionPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *Factory) sessionPath(key int64) string {
	return filepath.Join(f.opts.SessionDir, fmt.Sprintf("session_%d.json", key))
}
