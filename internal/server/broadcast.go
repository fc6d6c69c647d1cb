package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/host548/telegram-spam-panel/internal/storage"
	"github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

type broadcastBody struct {
	UserID       int64   `json:"user_id" binding:"required"`
	Text         string  `json:"text" binding:"required"`
	DelaySeconds int     `json:"delay_seconds" binding:"min=0"`
	ChatIDs      []int64 `json:"chat_ids,omitempty"`
}

type testMessageBody struct {
	UserID       int64  `json:"user_id" binding:"required"`
	ChatID       int64  `json:"chat_id" binding:"required"`
	Text         string `json:"text" binding:"required"`
	DelaySeconds int    `json:"delay_seconds" binding:"min=0"`
}

// Dialogs lists the account's conversations with per-kind stats.
func (h *Handlers) Dialogs(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	bot, ok := h.Manager.GetSession(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	dialogs, err := bot.Dialogs(c.Request.Context())
	if err != nil {
		h.Log.Error("dialog listing failed", logx.Int64("user", userID), logx.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats := map[telegram.DialogKind]int{}
	for _, d := range dialogs {
		stats[d.Kind]++
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"dialogs": dialogs,
		"stats": gin.H{
			"total":    len(dialogs),
			"private":  stats[telegram.DialogPrivate],
			"groups":   stats[telegram.DialogGroup],
			"channels": stats[telegram.DialogChannel],
		},
	})
}

// Broadcast fans the text out to all (or the selected) dialogs as a
// message scheduled delay_seconds from now, then records the tally.
func (h *Handlers) Broadcast(c *gin.Context) {
	var body broadcastBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	bot, ok := h.Manager.GetSession(body.UserID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	ctx := c.Request.Context()
	all, err := bot.Dialogs(ctx)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dialogs := all
	if len(body.ChatIDs) > 0 {
		wanted := make(map[int64]bool, len(body.ChatIDs))
		for _, id := range body.ChatIDs {
			wanted[id] = true
		}
		dialogs = dialogs[:0:0]
		for _, d := range all {
			if wanted[d.ID] {
				dialogs = append(dialogs, d)
			}
		}
	}
	if len(dialogs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no dialogs to broadcast to"})
		return
	}

	scheduleAt := time.Now().Add(time.Duration(body.DelaySeconds) * time.Second)
	res, err := bot.Broadcast(ctx, dialogs, body.Text, scheduleAt, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := storage.BroadcastRecord{
		ID:          uuid.NewString(),
		UserID:      body.UserID,
		Text:        body.Text,
		ScheduledAt: scheduleAt,
		Total:       res.Total,
		Successful:  res.Successful,
		Failed:      res.Failed,
	}
	if err := h.Store.AppendBroadcast(ctx, rec); err != nil {
		h.Log.Warn("broadcast history write failed", logx.Int64("user", body.UserID), logx.Err(err))
	}
	if h.Notify != nil {
		h.Notify(fmt.Sprintf("broadcast for account %d: %d ok, %d failed of %d",
			body.UserID, res.Successful, res.Failed, res.Total))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"total":         res.Total,
		"successful":    res.Successful,
		"failed":        res.Failed,
		"failures":      res.Failures,
		"schedule_time": scheduleAt.Format(time.RFC3339),
	})
}

// TestMessage schedules a single message into one chat.
func (h *Handlers) TestMessage(c *gin.Context) {
	var body testMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	bot, ok := h.Manager.GetSession(body.UserID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	scheduleAt := time.Now().Add(time.Duration(body.DelaySeconds) * time.Second)
	sent, err := bot.Schedule(c.Request.Context(), body.ChatID, body.Text, scheduleAt, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !sent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "send failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "message scheduled",
		"schedule_time": scheduleAt.Format(time.RFC3339),
	})
}

// BroadcastHistory returns the most recent fan-out records.
func (h *Handlers) BroadcastHistory(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	records, err := h.Store.ListBroadcasts(c.Request.Context(), userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "broadcasts": records})
}
