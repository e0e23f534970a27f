package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cvtriage/internal/auth"
	"cvtriage/internal/models"
	"cvtriage/internal/screening"
	"cvtriage/internal/service/profile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sseKeepAlive = 25 * time.Second

// Config bounds uploads and seeds admin-created profiles.
type Config struct {
	MaxUploadBytes  int64
	SoftUploadBytes int64
	DefaultCredits  int
}

// Handler wires HTTP routes to the auth gate, profiles and screening sessions.
type Handler struct {
	gate     *auth.Gate
	auth     *auth.Service
	profiles *profile.Service
	sessions *screening.Manager
	cfg      Config
	logger   *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(gate *auth.Gate, profiles *profile.Service, sessions *screening.Manager, cfg Config, logger *zap.Logger) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.SoftUploadBytes <= 0 {
		cfg.SoftUploadBytes = 5 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gate:     gate,
		auth:     gate.Auth(),
		profiles: profiles,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(RequestID(), RequestLogger(h.logger), Recovery(h.logger))
	api.POST("/auth/login", h.login)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.POST("/auth/logout", h.logout)
	authed.GET("/auth/session", h.currentSession)
	authed.GET("/auth/events", h.sessionEvents)

	sc := authed.Group("/screening")
	sc.GET("/session", h.getScreeningSession)
	sc.PUT("/job", h.setJob)
	sc.POST("/files", h.uploadFiles)
	sc.DELETE("/files/:id", h.removeFile)
	sc.DELETE("/session", h.clearSession)
	sc.POST("/run", h.runAnalysis)

	admin := authed.Group("/admin")
	admin.Use(h.requireAdmin())
	admin.GET("/profiles", h.listProfiles)
	admin.PATCH("/profiles/:id/credits", h.updateCredits)
	admin.POST("/profiles/:id/reset-usage", h.resetUsage)
	admin.POST("/users", h.createUser)
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Mode     string `json:"mode"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mode, err := auth.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	login, err := h.gate.Login(c.Request.Context(), req.Email, req.Password, mode)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrAccessDenied):
			h.clearAuthCookies(c)
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.logger.Error("login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, login.Session.Token, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"profile":    login.Profile,
		"auth_token": login.Session.Token,
		"csrf_token": csrfToken,
		"expires_at": login.Session.ExpiresAt,
	})
}

func (h *Handler) logout(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if !h.sessions.ResetUser(userID) {
		h.logger.Info("screening session kept until its batch settles", zap.String("user_id", userID))
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.gate.Logout(c.Request.Context(), authToken); err != nil {
			h.logger.Warn("logout failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	p, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// sessionEvents streams the resolved profile on every session change until
// the client leaves or the session ends.
func (h *Handler) sessionEvents(c *gin.Context) {
	token, _ := auth.AuthTokenFromContext(c)
	ctx := c.Request.Context()
	watcher, err := h.gate.Bootstrap(ctx, token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer watcher.Close()

	send, ok := h.openStream(c)
	if !ok {
		return
	}
	changes := make(chan *models.Profile, 8)
	unsubscribe := watcher.OnChange(func(p *models.Profile) {
		select {
		case changes <- p:
		default:
			h.logger.Debug("session event dropped for slow client")
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case p := <-changes:
			if err := send("session", gin.H{"user": p}); err != nil {
				return
			}
			if p == nil {
				return
			}
		}
	}
}

// openStream switches the response to server-sent events.
func (h *Handler) openStream(c *gin.Context) (func(event string, payload interface{}) error, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return nil, false
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	return sendEvent, true
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
