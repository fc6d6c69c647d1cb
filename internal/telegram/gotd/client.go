package gotd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	tgcore "github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

// Client owns exactly one MTProto connection. gotd's Run-based
// lifecycle is inverted into Connect/Disconnect by parking the Run
// callback on a cancellable context.
type Client struct {
	opts        Options
	key         int64
	phone       string
	sessionPath string
	log         logx.Logger

	mu      sync.Mutex
	client  *telegram.Client
	api     *tg.Client
	storage session.Storage
	cancel  context.CancelFunc
	done    chan error

	peerMu sync.Mutex
	peers  map[int64]peerRef
}

var _ tgcore.Client = (*Client)(nil)

func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	storage, err := c.newStorage(ctx, token)
	if err != nil {
		return err
	}

	tc := telegram.NewClient(c.opts.APIID, c.opts.APIHash, telegram.Options{
		SessionStorage: storage,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- tc.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	timeout := time.NewTimer(c.opts.ConnectTimeout)
	defer timeout.Stop()
	select {
	case <-ready:
	case err := <-done:
		cancel()
		return fmt.Errorf("connect: %w", translate(err))
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case <-timeout.C:
		cancel()
		<-done
		return fmt.Errorf("connect after %s: %w", c.opts.ConnectTimeout, tgcore.ErrTimeout)
	}

	c.client = tc
	c.api = tc.API()
	c.storage = storage
	c.cancel = cancel
	c.done = done
	c.log.Debug("mtproto client connected", logx.Bool("from_token", token != ""))
	return nil
}

// newStorage picks the session backing. A supplied token is decoded
// into memory; otherwise the on-disk artifact is used, with an
// up-front readability check so corruption surfaces as a typed error
// the handle knows how to recover from.
func (c *Client) newStorage(ctx context.Context, token string) (session.Storage, error) {
	if token != "" {
		raw, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("decode credential token: %w", err)
		}
		mem := new(session.StorageMemory)
		if err := mem.StoreSession(ctx, raw); err != nil {
			return nil, fmt.Errorf("seed session from token: %w", err)
		}
		return mem, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.sessionPath), 0o755); err != nil {
		return nil, err
	}
	fs := &session.FileStorage{Path: c.sessionPath}
	if _, err := fs.LoadSession(ctx); err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", tgcore.ErrCorruptSession, err)
	}
	return fs, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	return nil
}

func (c *Client) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		c.log.Warn("mtproto client did not stop in time")
	}
	c.cancel = nil
	c.done = nil
	c.client = nil
	c.api = nil
}

func (c *Client) running() (*telegram.Client, *tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, nil, errNotRunning
	}
	return c.client, c.api, nil
}

func (c *Client) SendCode(ctx context.Context, phone string) (string, error) {
	tc, _, err := c.running()
	if err != nil {
		return "", err
	}
	sent, err := tc.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", translate(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("unexpected sent code response %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (c *Client) SignIn(ctx context.Context, phone, code, codeHash string) error {
	tc, _, err := c.running()
	if err != nil {
		return err
	}
	_, err = tc.Auth().SignIn(ctx, phone, code, codeHash)
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return tgcore.ErrPasswordNeeded
	}
	if isAuthReject(err) {
		return fmt.Errorf("%w: %v", tgcore.ErrAuthRejected, err)
	}
	return translate(err)
}

func (c *Client) Password(ctx context.Context, password string) error {
	tc, _, err := c.running()
	if err != nil {
		return err
	}
	if _, err := tc.Auth().Password(ctx, password); err != nil {
		if isAuthReject(err) {
			return fmt.Errorf("%w: %v", tgcore.ErrAuthRejected, err)
		}
		return translate(err)
	}
	return nil
}

func (c *Client) Self(ctx context.Context) error {
	tc, _, err := c.running()
	if err != nil {
		return tgcore.ErrNotConnected
	}
	if _, err := tc.Self(ctx); err != nil {
		return translate(err)
	}
	return nil
}

func (c *Client) ExportToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	storage := c.storage
	c.mu.Unlock()
	if storage == nil {
		return "", errNotRunning
	}
	raw, err := storage.LoadSession(ctx)
	if err != nil {
		return "", fmt.Errorf("export session: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (c *Client) RemoveLocalSession() error {
	err := os.Remove(c.sessionPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
