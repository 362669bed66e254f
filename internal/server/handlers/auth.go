package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/videoforge/videoforge/internal/apierrors"
	"github.com/videoforge/videoforge/internal/auth"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role"`
}

// Login authenticates a user and returns a bearer token.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.HandleValidationError(c, "Username and password are required", "username")
		return
	}

	token, user, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			apierrors.NewUnauthorizedError("Invalid credentials").ToGinResponse(c)
			return
		}
		apierrors.HandleInternalError(c, "Login failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   token,
		"user": gin.H{
			"id":          user.ID,
			"username":    user.Username,
			"role":        user.Role,
			"permissions": user.GetPermissions(),
		},
	})
}

// RegisterUser creates a new account. Self-registration is limited to the
// user role; privileged roles require the manage_users permission.
func (h *Handlers) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.HandleValidationError(c, "Username and a password of at least 6 characters are required", "password")
		return
	}

	role := req.Role
	if role == "" {
		role = "user"
	}
	if role != "user" {
		// Registration itself is unauthenticated, so role assignment
		// checks the bearer token directly when one is supplied.
		claims := auth.ClaimsFrom(c)
		if claims == nil {
			if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
				claims, _ = h.auth.ParseToken(strings.TrimPrefix(header, "Bearer "))
			}
		}
		if claims == nil || !claims.HasPermission(auth.PermManageUsers) {
			apierrors.HandleForbidden(c, "Only administrators may assign roles")
			return
		}
	}

	user, err := h.auth.Register(req.Username, req.Password, role)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			apierrors.NewValidationError("Username already taken", "username").ToGinResponse(c)
			return
		}
		apierrors.HandleInternalError(c, "Registration failed", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// CurrentUser returns the authenticated user's claims.
func (h *Handlers) CurrentUser(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":          claims.UserID,
			"username":    claims.Username,
			"role":        claims.Role,
			"permissions": claims.Permissions,
		},
	})
}
