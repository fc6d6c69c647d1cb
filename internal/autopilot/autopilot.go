// Package autopilot re-runs stored broadcasts on a per-account cron
// schedule. It is trigger-only glue: the session registry owns the
// fan-out, the store owns the text and the schedule, autopilot just
// fires at the right moments and re-syncs its entries when settings
// change.
package autopilot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/host548/telegram-spam-panel/internal/storage"
	"github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

type Config struct {
	Enabled         bool
	Timezone        string
	DefaultSchedule string
	SendDelay       time.Duration
	RefreshInterval time.Duration
}

const (
	defaultSchedule  = "@every 6h"
	defaultRefresh   = time.Minute
	defaultSendDelay = 30 * time.Second
)

type entry struct {
	id   cron.EntryID
	spec string
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	store   *storage.Store
	manager *telegram.Manager
	notify  func(string)
	log     logx.Logger

	parser  cron.Parser
	c       *cron.Cron
	entries map[int64]entry
	done    chan struct{}
}

func New(cfg Config, store *storage.Store, manager *telegram.Manager, notify func(string), log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		manager: manager,
		notify:  notify,
		log:     log,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[int64]entry{},
	}
}

// Start begins cron triggering and periodic settings re-sync. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.cfg.Enabled || s.c != nil {
		s.mu.Unlock()
		return
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			s.log.Warn("bad timezone, using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.refresh(ctx)
	s.mu.Lock()
	if s.c != nil {
		s.c.Start()
	}
	s.mu.Unlock()

	interval := s.cfg.RefreshInterval
	if interval <= 0 {
		interval = defaultRefresh
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				s.refresh(ctx)
			}
		}
	}()
	s.log.Info("autopilot started", logx.String("tz", loc.String()))
}

// Stop halts triggering. In-flight broadcasts run to completion.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	done := s.done
	s.c = nil
	s.done = nil
	s.entries = map[int64]entry{}
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
}

// refresh reconciles cron entries with the accounts that currently have
// auto-broadcast enabled.
func (s *Service) refresh(ctx context.Context) {
	settings, err := s.store.ListAutoBroadcast(ctx)
	if err != nil {
		s.log.Warn("autopilot settings read failed", logx.Err(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}

	live := make(map[int64]bool, len(settings))
	for _, st := range settings {
		live[st.UserID] = true
		spec := strings.TrimSpace(st.BroadcastSchedule)
		if spec == "" {
			spec = strings.TrimSpace(s.cfg.DefaultSchedule)
		}
		if spec == "" {
			spec = defaultSchedule
		}
		if cur, ok := s.entries[st.UserID]; ok {
			if cur.spec == spec {
				continue
			}
			s.c.Remove(cur.id)
			delete(s.entries, st.UserID)
		}
		userID := st.UserID
		id, err := s.c.AddFunc(spec, func() { s.fire(userID) })
		if err != nil {
			s.log.Warn("bad auto-broadcast schedule",
				logx.Int64("user", userID), logx.String("spec", spec), logx.Err(err))
			continue
		}
		s.entries[userID] = entry{id: id, spec: spec}
	}
	for userID, cur := range s.entries {
		if !live[userID] {
			s.c.Remove(cur.id)
			delete(s.entries, userID)
		}
	}
}

func (s *Service) fire(userID int64) {
	ctx := context.Background()
	log := s.log.With(logx.Int64("user", userID))

	st, err := s.store.GetSettings(ctx, userID)
	if err != nil || !st.AutoBroadcast || strings.TrimSpace(st.BroadcastText) == "" {
		return
	}
	bot, ok := s.manager.GetSession(userID)
	if !ok {
		log.Warn("auto-broadcast skipped, no live session")
		return
	}

	dialogs, err := bot.Dialogs(ctx)
	if err != nil {
		log.Warn("auto-broadcast dialog listing failed", logx.Err(err))
		return
	}
	if len(dialogs) == 0 {
		return
	}

	delay := s.cfg.SendDelay
	if delay <= 0 {
		delay = defaultSendDelay
	}
	at := time.Now().Add(delay)
	res, err := bot.Broadcast(ctx, dialogs, st.BroadcastText, at, nil)
	if err != nil {
		log.Warn("auto-broadcast failed", logx.Err(err))
		return
	}
	log.Info("auto-broadcast done",
		logx.Int("total", res.Total), logx.Int("ok", res.Successful), logx.Int("failed", res.Failed))

	rec := storage.BroadcastRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		Text:        st.BroadcastText,
		ScheduledAt: at,
		Total:       res.Total,
		Successful:  res.Successful,
		Failed:      res.Failed,
	}
	if err := s.store.AppendBroadcast(ctx, rec); err != nil {
		log.Warn("auto-broadcast history write failed", logx.Err(err))
	}
	if s.notify != nil {
		s.notify(autoSummary(userID, res))
	}
}

func autoSummary(userID int64, res telegram.BroadcastResult) string {
	return fmt.Sprintf("auto-broadcast for account %d: %d ok, %d failed of %d",
		userID, res.Successful, res.Failed, res.Total)
}
