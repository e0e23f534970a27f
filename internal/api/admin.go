package api

import (
	"errors"
	"net/http"

	"cvtriage/internal/auth"
	"cvtriage/internal/service/profile"
	"cvtriage/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const msgUserCreated = "Usuário cadastrado com sucesso!"

// requireAdmin lets only admin profiles through.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		p, err := h.profiles.Get(c.Request.Context(), userID)
		if err != nil {
			h.logger.Error("load profile failed", zap.String("user_id", userID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
			return
		}
		if !p.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": auth.ErrAccessDenied.Error()})
			return
		}
		c.Next()
	}
}

func (h *Handler) listProfiles(c *gin.Context) {
	profiles, err := h.profiles.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list profiles failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list profiles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

type creditsRequest struct {
	MaxCredits *int `json:"max_credits"`
}

func (h *Handler) updateCredits(c *gin.Context) {
	var req creditsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MaxCredits == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_credits is required"})
		return
	}
	id := c.Param("id")
	if err := h.profiles.UpdateCreditLimit(c.Request.Context(), id, *req.MaxCredits); err != nil {
		h.profileWriteError(c, id, err)
		return
	}
	h.profileChanged(c, id)
}

func (h *Handler) resetUsage(c *gin.Context) {
	id := c.Param("id")
	if err := h.profiles.ResetUsage(c.Request.Context(), id); err != nil {
		h.profileWriteError(c, id, err)
		return
	}
	h.profileChanged(c, id)
}

func (h *Handler) profileWriteError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, profile.ErrInvalidLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
	default:
		h.logger.Error("update profile failed", zap.String("profile_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update profile"})
	}
}

// profileChanged pushes the new profile to the user's live session and
// session listeners, then returns it.
func (h *Handler) profileChanged(c *gin.Context, id string) {
	p, err := h.profiles.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		return
	}
	if sess, ok := h.sessions.Lookup(id); ok {
		sess.SyncProfile(p)
	}
	h.auth.NotifyProfileChanged(id)
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

type createUserRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Password   string `json:"password"`
	IsAdmin    bool   `json:"is_admin"`
	MaxCredits *int   `json:"max_credits"`
}

// createUser registers an account on behalf of an admin. The admin's own
// session is untouched.
func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	credits := h.cfg.DefaultCredits
	if req.MaxCredits != nil {
		credits = *req.MaxCredits
	}
	if credits < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": profile.ErrInvalidLimit.Error()})
		return
	}
	p, err := h.gate.Register(c.Request.Context(), auth.NewUser{
		Email:      req.Email,
		Name:       req.Name,
		Password:   req.Password,
		IsAdmin:    req.IsAdmin,
		MaxCredits: credits,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidAccount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("register user failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not register user"})
		return
	}
	if sess, ok := h.sessions.Lookup(p.ID); ok {
		sess.SyncProfile(p)
	}
	c.JSON(http.StatusCreated, gin.H{"profile": p, "message": msgUserCreated})
}
