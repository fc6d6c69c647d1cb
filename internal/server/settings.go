package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

type autoBroadcastBody struct {
	Enabled  bool   `json:"enabled"`
	Text     string `json:"text,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// GetSettings returns the stored per-account preferences.
func (h *Handlers) GetSettings(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	s, err := h.Store.GetSettings(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": s})
}

// ToggleAutoBroadcast enables or disables the scheduled fan-out for an
// account. Enabling requires a broadcast text, either in the request or
// already stored.
func (h *Handlers) ToggleAutoBroadcast(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	var body autoBroadcastBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	s, err := h.Store.GetSettings(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if body.Text != "" {
		s.BroadcastText = body.Text
	}
	if body.Schedule != "" {
		s.BroadcastSchedule = body.Schedule
	}
	if body.Enabled && strings.TrimSpace(s.BroadcastText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "set a broadcast text before enabling auto-broadcast"})
		return
	}
	s.AutoBroadcast = body.Enabled
	s.UserID = userID

	if err := h.Store.SaveSettings(ctx, s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.Log.Info("auto-broadcast toggled",
		logx.Int64("user", userID), logx.Bool("enabled", body.Enabled))
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": s})
}
