// Package storage is the durable side of the panel: credential tokens,
// per-account settings and broadcast history. The session core never
// touches it; only the service layer and app wiring do.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Account is one persisted messaging account: its phone and, after a
// successful authorization, the exported credential token.
type Account struct {
	UserID     int64
	Phone      string
	Token      string
	Authorized bool
	UpdatedAt  time.Time
}

// Settings carries per-account panel settings.
type Settings struct {
	UserID            int64  `json:"user_id"`
	AutoBroadcast     bool   `json:"auto_broadcast"`
	BroadcastText     string `json:"broadcast_text"`
	BroadcastSchedule string `json:"broadcast_schedule"`
}

// BroadcastRecord is one finished fan-out pass.
type BroadcastRecord struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	Text        string    `json:"text"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Total       int       `json:"total"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	CreatedAt   time.Time `json:"created_at"`
}

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- accounts ----

func (s *Store) SaveAccount(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(user_id, phone, session_token, authorized, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   phone=excluded.phone,
		   session_token=excluded.session_token,
		   authorized=excluded.authorized,
		   updated_at=excluded.updated_at`,
		a.UserID, a.Phone, a.Token, a.Authorized, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetAccount(ctx context.Context, userID int64) (Account, bool, error) {
	var (
		a  Account
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, phone, session_token, authorized, updated_at FROM accounts WHERE user_id = ?`,
		userID,
	).Scan(&a.UserID, &a.Phone, &a.Token, &a.Authorized, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
	return a, true, nil
}

// ListAuthorizedAccounts returns every account holding a credential
// token marked authorized; this is the restore set at process start.
func (s *Store) ListAuthorizedAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, phone, session_token, authorized, updated_at
		 FROM accounts WHERE authorized = 1 AND session_token != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var (
			a  Account
			at string
		)
		if err := rows.Scan(&a.UserID, &a.Phone, &a.Token, &a.Authorized, &at); err != nil {
			return nil, err
		}
		a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAccount(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = ?`, userID)
	return err
}

// MarkUnauthorized clears the authorized flag but keeps the phone so
// the user can re-start login without re-entering it.
func (s *Store) MarkUnauthorized(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET authorized = 0, session_token = '', updated_at = ? WHERE user_id = ?`,
		time.Now().Format(time.RFC3339Nano), userID)
	return err
}

// ---- settings ----

func (s *Store) GetSettings(ctx context.Context, userID int64) (Settings, error) {
	var st Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, auto_broadcast, broadcast_text, broadcast_schedule FROM settings WHERE user_id = ?`,
		userID,
	).Scan(&st.UserID, &st.AutoBroadcast, &st.BroadcastText, &st.BroadcastSchedule)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{UserID: userID}, nil
	}
	return st, err
}

func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(user_id, auto_broadcast, broadcast_text, broadcast_schedule, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   auto_broadcast=excluded.auto_broadcast,
		   broadcast_text=excluded.broadcast_text,
		   broadcast_schedule=excluded.broadcast_schedule,
		   updated_at=excluded.updated_at`,
		st.UserID, st.AutoBroadcast, st.BroadcastText, st.BroadcastSchedule,
		time.Now().Format(time.RFC3339Nano),
	)
	return err
}

// ListAutoBroadcast returns every account with auto-broadcast enabled.
func (s *Store) ListAutoBroadcast(ctx context.Context) ([]Settings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, auto_broadcast, broadcast_text, broadcast_schedule FROM settings WHERE auto_broadcast = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Settings
	for rows.Next() {
		var st Settings
		if err := rows.Scan(&st.UserID, &st.AutoBroadcast, &st.BroadcastText, &st.BroadcastSchedule); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ---- broadcast history ----

func (s *Store) AppendBroadcast(ctx context.Context, r BroadcastRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(id, user_id, text, scheduled_at, total, successful, failed, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, r.Text,
		r.ScheduledAt.Format(time.RFC3339Nano),
		r.Total, r.Successful, r.Failed,
		r.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) ListBroadcasts(ctx context.Context, userID int64, limit int) ([]BroadcastRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, scheduled_at, total, successful, failed, created_at
		 FROM broadcasts WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BroadcastRecord
	for rows.Next() {
		var (
			r        BroadcastRecord
			schedAt  string
			createAt string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Text, &schedAt, &r.Total, &r.Successful, &r.Failed, &createAt); err != nil {
			return nil, err
		}
		r.ScheduledAt, _ = time.Parse(time.RFC3339Nano, schedAt)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
