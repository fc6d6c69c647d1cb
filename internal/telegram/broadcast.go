package telegram

import (
	"time"

	"context"

	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

// maxRecordedFailures caps the per-destination failure list so huge
// fan-outs don't grow the result unboundedly; counts stay exact.
const maxRecordedFailures = 200

// Broadcast fans text out to every destination as a message scheduled
// for at. At most MaxConcurrent sends are in flight at once, and each
// send holds its limiter slot for the pacing interval after the
// attempt, so the rate of new sends stays bounded, not just their
// count. Individual failures never abort the batch and are not retried
// within this pass.
//
// The session-validity precondition runs under the handle's guard; the
// sends themselves run concurrently outside it, relying on the
// transport's own multiplexing.
func (u *Userbot) Broadcast(ctx context.Context, dialogs []Dialog, text string, at time.Time, progress ProgressFunc) (BroadcastResult, error) {
	res := BroadcastResult{Total: len(dialogs)}

	if !u.CheckSession(ctx) {
		return res, ErrSessionInvalid
	}

	u.mu.Lock()
	client := u.client
	u.mu.Unlock()
	if client == nil {
		return res, ErrSessionInvalid
	}

	if len(dialogs) == 0 {
		return res, nil
	}

	opts := u.options()
	start := time.Now()
	u.log.Info("broadcast started",
		logx.Int("total", len(dialogs)),
		logx.Int("max_concurrent", opts.MaxConcurrent),
		logx.Duration("send_delay", opts.SendDelay),
		logx.Time("scheduled_at", at))

	type outcome struct {
		dialogID int64
		err      error
	}

	sem := make(chan struct{}, opts.MaxConcurrent)
	results := make(chan outcome, len(dialogs))

	for _, d := range dialogs {
		go func(d Dialog) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- outcome{dialogID: d.ID, err: ctx.Err()}
				return
			}
			err := client.SendScheduled(ctx, d.ID, text, at)
			// Pace inside the held slot: this throttles burst rate even
			// when all slots are busy.
			sleepCtx(ctx, opts.SendDelay)
			<-sem
			results <- outcome{dialogID: d.ID, err: err}
		}(d)
	}

	// Single collecting goroutine owns the tallies; workers never touch
	// shared counters. Outcomes arrive in completion order.
	for done := 0; done < len(dialogs); done++ {
		o := <-results
		if o.err == nil {
			res.Successful++
		} else {
			res.Failed++
			if len(res.Failures) < maxRecordedFailures {
				res.Failures = append(res.Failures, SendFailure{
					DialogID: o.dialogID,
					Reason:   failureReason(o.err),
				})
			}
		}
		if progress != nil {
			notifyProgress(progress, done+1, res.Total, res.Successful, res.Failed)
		}
	}

	fields := []logx.Field{
		logx.Int("total", res.Total),
		logx.Int("successful", res.Successful),
		logx.Int("failed", res.Failed),
		logx.Duration("took", time.Since(start)),
	}
	if res.Failed > 0 {
		u.log.Warn("broadcast finished with failures", fields...)
	} else {
		u.log.Info("broadcast finished", fields...)
	}
	return res, nil
}

func failureReason(err error) string {
	if wait, ok := AsFloodWait(err); ok {
		return "flood wait " + wait.String()
	}
	return err.Error()
}

// notifyProgress shields the broadcast from callback panics.
func notifyProgress(progress ProgressFunc, done, total, successful, failed int) {
	defer func() {
		_ = recover()
	}()
	progress(done, total, successful, failed)
}
