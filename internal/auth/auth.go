// Package auth implements the upload/authorization collaborator: account
// storage, JWT issuance and validation, and gin middleware enforcing
// per-route permissions. The orchestrator trusts identities authenticated
// here.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/videoforge/videoforge/internal/apierrors"
	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/transcoder"
)

const claimsContextKey = "auth.claims"

// Permissions
const (
	PermUpload      = "upload"
	PermTranscode   = "transcode"
	PermDelete      = "delete"
	PermManageUsers = "manage_users"
	PermViewAll     = "view_all"
	PermView        = "view"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
)

// permissionsByRole mirrors the default permission grants.
var permissionsByRole = map[string][]string{
	"admin":  {PermUpload, PermTranscode, PermDelete, PermManageUsers, PermViewAll},
	"user":   {PermUpload, PermTranscode},
	"viewer": {PermView},
}

// Claims are the JWT payload issued at login.
type Claims struct {
	UserID      string   `json:"userId"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the claims carry the permission.
func (c *Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Identity converts claims into the orchestrator's caller identity.
func (c *Claims) Identity() transcoder.Identity {
	return transcoder.Identity{UserID: c.UserID, Role: c.Role}
}

// Manager handles accounts and tokens.
type Manager struct {
	db       *gorm.DB
	secret   []byte
	tokenTTL time.Duration
	logger   hclog.Logger
}

// NewManager creates an auth manager.
func NewManager(db *gorm.DB, secret string, tokenTTL time.Duration, logger hclog.Logger) *Manager {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Manager{
		db:       db,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		logger:   logger.Named("auth"),
	}
}

// SeedDemoUsers creates the default demo accounts if the user table is
// empty. Intended for development setups only.
func (m *Manager) SeedDemoUsers() error {
	var count int64
	if err := m.db.Model(&database.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []struct {
		username, password, role string
	}{
		{"admin", "admin123", "admin"},
		{"user1", "user123", "user"},
		{"viewer", "viewer123", "viewer"},
	}
	for _, d := range defaults {
		if _, err := m.Register(d.username, d.password, d.role); err != nil {
			return err
		}
	}
	m.logger.Warn("seeded demo accounts, change the passwords before exposing this server")
	return nil
}

// Register creates a new account. An empty role defaults to user.
func (m *Manager) Register(username, password, role string) (*database.User, error) {
	if role == "" {
		role = "user"
	}
	perms, ok := permissionsByRole[role]
	if !ok {
		return nil, errors.New("unknown role: " + role)
	}

	var existing database.User
	err := m.db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &database.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := user.SetPermissions(perms); err != nil {
		return nil, err
	}
	if err := m.db.Create(user).Error; err != nil {
		return nil, err
	}

	m.logger.Info("registered user", "username", username, "role", role)
	return user, nil
}

// Login verifies credentials and issues a signed token.
func (m *Manager) Login(username, password string) (string, *database.User, error) {
	var user database.User
	err := m.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: user.GetPermissions(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// ParseToken validates a signed token and returns its claims.
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware authenticates the Bearer token and stores claims in the
// request context.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			apierrors.NewUnauthorizedError("Missing or malformed authorization header").ToGinResponse(c)
			c.Abort()
			return
		}

		claims, err := m.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			apierrors.NewUnauthorizedError("Invalid or expired token").ToGinResponse(c)
			c.Abort()
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequirePermission rejects requests whose claims lack the permission.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil || !claims.HasPermission(perm) {
			apierrors.HandleForbidden(c, "Insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the authenticated claims from the request context.
func ClaimsFrom(c *gin.Context) *Claims {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
