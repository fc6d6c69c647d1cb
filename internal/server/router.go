// Package server is the HTTP face of the panel. It is peripheral glue:
// every request resolves to the session registry and the broadcast
// engine, plus the persistence collaborator for tokens and settings.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/host548/telegram-spam-panel/internal/storage"
	"github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

type Deps struct {
	Manager *telegram.Manager
	Store   *storage.Store
	Log     logx.Logger

	// AuthRatePerMin limits auth endpoint calls per client IP.
	AuthRatePerMin int

	// Notify receives operator messages after completed broadcasts.
	Notify func(string)
}

func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "online",
			"service": "telegram-broadcast-panel",
			"version": "1.0",
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	h := &Handlers{Manager: deps.Manager, Store: deps.Store, Log: log, Notify: deps.Notify}

	authLimiter := newIPLimiter(deps.AuthRatePerMin)
	auth := r.Group("/auth", rateLimitMiddleware(authLimiter))
	auth.POST("/start", h.AuthStart)
	auth.POST("/code", h.AuthCode)
	auth.POST("/password", h.AuthPassword)
	auth.GET("/status/:user_id", h.AuthStatus)
	auth.POST("/logout", h.Logout)

	r.GET("/dialogs/:user_id", h.Dialogs)
	r.POST("/broadcast", h.Broadcast)
	r.POST("/message/test", h.TestMessage)
	r.GET("/broadcasts/:user_id", h.BroadcastHistory)

	r.GET("/settings/:user_id", h.GetSettings)
	r.POST("/settings/:user_id/auto-broadcast", h.ToggleAutoBroadcast)

	r.POST("/cleanup/:user_id", h.Cleanup)

	return r
}

// NewHTTPServer wraps the router in a server with sane timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	if addr == "" {
		addr = ":8000"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func parseUserID(c *gin.Context) (int64, bool) {
	var id int64
	if _, err := fmt.Sscan(c.Param("user_id"), &id); err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return 0, false
	}
	return id, true
}
