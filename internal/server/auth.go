package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/host548/telegram-spam-panel/internal/storage"
	"github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

type Handlers struct {
	Manager *telegram.Manager
	Store   *storage.Store
	Log     logx.Logger

	// Notify, when set, receives a short operator message after each
	// completed broadcast.
	Notify func(string)
}

type authStartBody struct {
	UserID int64  `json:"user_id" binding:"required"`
	Phone  string `json:"phone" binding:"required"`
}

type authCodeBody struct {
	UserID        int64  `json:"user_id" binding:"required"`
	Code          string `json:"code" binding:"required"`
	PhoneCodeHash string `json:"phone_code_hash" binding:"required"`
}

type authPasswordBody struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type logoutBody struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// AuthStart creates (or replaces) the account's session and asks the
// provider to deliver a verification code.
func (h *Handlers) AuthStart(c *gin.Context) {
	var body authStartBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	bot, err := h.Manager.CreateSession(ctx, body.UserID, body.Phone, "")
	if err != nil {
		h.Log.Error("auth start: session create failed", logx.Int64("user", body.UserID), logx.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bot.RequestCode(ctx)
	if err != nil {
		h.Log.Error("auth start: code request failed", logx.Int64("user", body.UserID), logx.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Remember the phone so re-login doesn't require re-entering it.
	if err := h.Store.SaveAccount(ctx, storage.Account{UserID: body.UserID, Phone: body.Phone}); err != nil {
		h.Log.Warn("auth start: account save failed", logx.Int64("user", body.UserID), logx.Err(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"phone_code_hash": hash,
		"message":         "code sent to " + body.Phone,
	})
}

// AuthCode submits the delivered code. On full authorization the
// exported credential token is handed to the store; a two-factor
// requirement is reported as a branch, not an error.
func (h *Handlers) AuthCode(c *gin.Context) {
	var body authCodeBody
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
	res := bot.SubmitCode(ctx, body.Code, body.PhoneCodeHash)
	switch res.Status {
	case telegram.SignInAuthorized:
		h.persistAuthorized(ctx, bot)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "authorized"})
	case telegram.SignInPasswordNeeded:
		c.JSON(http.StatusOK, gin.H{
			"success":        false,
			"needs_password": true,
			"message":        "two-factor password required",
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Err.Error()})
	}
}

// AuthPassword completes two-factor sign-in.
func (h *Handlers) AuthPassword(c *gin.Context) {
	var body authPasswordBody
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
	if !bot.SubmitPassword(ctx, body.Password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wrong password"})
		return
	}
	h.persistAuthorized(ctx, bot)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "authorized"})
}

// AuthStatus probes the live session.
func (h *Handlers) AuthStatus(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	bot, ok := h.Manager.GetSession(userID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"authorized": false, "message": "session not found"})
		return
	}

	valid := bot.CheckSession(c.Request.Context())
	msg := "authorized"
	if !valid {
		msg = "authorization required"
	}
	c.JSON(http.StatusOK, gin.H{"authorized": valid, "message": msg})
}

// Logout tears the session down and clears the stored credential.
func (h *Handlers) Logout(c *gin.Context) {
	var body logoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	h.Manager.RemoveSession(ctx, body.UserID)
	if err := h.Store.MarkUnauthorized(ctx, body.UserID); err != nil {
		h.Log.Warn("logout: store update failed", logx.Int64("user", body.UserID), logx.Err(err))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out"})
}

// Cleanup removes every trace of the account's session.
func (h *Handlers) Cleanup(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	h.Manager.RemoveSession(ctx, userID)
	if err := h.Store.MarkUnauthorized(ctx, userID); err != nil {
		h.Log.Warn("cleanup: store update failed", logx.Int64("user", userID), logx.Err(err))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "sessions cleaned"})
}

// persistAuthorized exports the session's credential token and hands
// it to the store. The in-memory flag on the handle stays the source
// of truth for validity; the stored flag only drives restore-on-start.
func (h *Handlers) persistAuthorized(ctx context.Context, bot *telegram.Userbot) {
	token, err := bot.ExportToken(ctx)
	if err != nil {
		h.Log.Warn("credential token export failed", logx.Int64("user", bot.Key()), logx.Err(err))
		return
	}
	err = h.Store.SaveAccount(ctx, storage.Account{
		UserID:     bot.Key(),
		Phone:      bot.Phone(),
		Token:      token,
		Authorized: true,
	})
	if err != nil {
		h.Log.Warn("credential token save failed", logx.Int64("user", bot.Key()), logx.Err(err))
	}
}
