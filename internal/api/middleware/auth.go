package middleware

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	cookieName           = "spool_auth"
	apiKeyHeader         = "X-API-Key"
	defaultTokenDuration = 24 * time.Hour
)

type Claims struct {
	jwt.RegisteredClaims
	Authenticated bool `json:"authenticated"`
}

type AuthConfig struct {
	// APIKeyHash is a bcrypt hash; empty disables authentication.
	APIKeyHash string
	JWTSecret  string
	TokenTTL   time.Duration
}

type AuthMiddleware struct {
	apiKeyHash []byte
	secret     []byte
	ttl        time.Duration
	now        func() time.Time
}

type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type StatusResponse struct {
	Authenticated bool `json:"authenticated"`
	AuthRequired  bool `json:"auth_required"`
}

func NewAuthMiddleware(cfg AuthConfig) (*AuthMiddleware, error) {
	a := &AuthMiddleware{
		apiKeyHash: []byte(cfg.APIKeyHash),
		ttl:        cfg.TokenTTL,
		now:        time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = defaultTokenDuration
	}

	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	} else {
		// tokens then only survive until restart
		a.secret = make([]byte, 32)
		if _, err := rand.Read(a.secret); err != nil {
			return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
		}
	}

	return a, nil
}

// HashAPIKey produces the value expected in server.api_key_hash.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("api key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

func (a *AuthMiddleware) Enabled() bool {
	return len(a.apiKeyHash) > 0
}

func (a *AuthMiddleware) checkAPIKey(key string) bool {
	if !a.Enabled() || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.apiKeyHash, []byte(key)) == nil
}

func (a *AuthMiddleware) generateToken() (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "thermal-spool",
		},
		Authenticated: true,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	return signed, expires, err
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	return ""
}

func (a *AuthMiddleware) authenticated(c *gin.Context) bool {
	if a.checkAPIKey(c.GetHeader(apiKeyHeader)) {
		return true
	}
	token := a.getTokenFromRequest(c)
	if token == "" {
		return false
	}
	claims, err := a.validateToken(token)
	return err == nil && claims.Authenticated
}

// TokenHandler exchanges the API key for a bearer token.
func (a *AuthMiddleware) TokenHandler(c *gin.Context) {
	if !a.Enabled() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "auth_disabled", "message": "authentication is not configured"})
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if !a.checkAPIKey(req.APIKey) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid api key"})
		return
	}

	token, expires, err := a.generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_error", "message": "failed to generate token"})
		return
	}

	c.SetCookie(cookieName, token, int(a.ttl.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expires})
}

func (a *AuthMiddleware) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Authenticated: !a.Enabled() || a.authenticated(c),
		AuthRequired:  a.Enabled(),
	})
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		if !a.authenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "authentication required"})
			return
		}

		c.Set("authenticated", true)
		c.Next()
	}
}
