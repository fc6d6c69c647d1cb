// Package notify pushes short operator messages to a Telegram chat
// through a regular bot account. Delivery is best-effort: a bounded
// queue feeds a single worker that paces sends with a token bucket, and
// messages are dropped rather than blocking callers when the queue is
// full.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notify: disabled")
	ErrQueueFull = errors.New("notify: queue full")
	ErrStopped   = errors.New("notify: stopped")
)

type Config struct {
	Enabled    bool
	BotToken   string
	ChatID     int64
	QueueSize  int
	RatePerSec int
}

// Sender is the transport the worker drains into. telebot's Bot
// satisfies it via botSender; tests substitute their own.
type Sender interface {
	Send(chatID int64, text string) error
}

type botSender struct{ bot *tele.Bot }

func (b botSender) Send(chatID int64, text string) error {
	_, err := b.bot.Send(tele.ChatID(chatID), text)
	return err
}

// NewBotSender builds a telebot-backed Sender. The bot is used purely
// as an outbound pipe, no update polling is started.
func NewBotSender(token string) (Sender, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return botSender{bot: bot}, nil
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  Sender
	cfg     Config
	limiter *rate.Limiter

	queue     chan string
	accepting bool
	done      chan struct{}
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	return &Service{
		log:     log,
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the drain worker. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	s.done = make(chan struct{})
	s.accepting = true
	go s.drain(ctx, s.queue, s.done)
}

// Stop blocks intake and waits for the queue to drain until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q := s.queue
	done := s.done
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.mu.Unlock()

	close(q)
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Notify enqueues a message without blocking. A full queue drops the
// message and reports ErrQueueFull.
func (s *Service) Notify(text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		return ErrStopped
	}
	select {
	case s.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// NotifyFunc adapts Notify for collaborators that take a plain
// callback and don't care about delivery errors.
func (s *Service) NotifyFunc() func(string) {
	return func(text string) { _ = s.Notify(text) }
}

func (s *Service) drain(ctx context.Context, q <-chan string, done chan struct{}) {
	defer close(done)
	for text := range q {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.sender.Send(s.cfg.ChatID, text); err != nil {
			s.log.Debug("notify send failed", logx.Err(err))
		}
	}
}
