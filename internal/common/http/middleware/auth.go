package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
	Role   string
}

// Authenticator validates HS256 access tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an Authenticator. An empty issuer skips the issuer check.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticate parses raw and returns the identity it carries.
func (a *Authenticator) Authenticate(raw string) (Identity, error) {
	if raw == "" || len(a.secret) == 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Identity{UserID: userID, Role: strings.ToLower(claims.Role)}, nil
}

// AuthMiddleware rejects requests without a valid bearer token and stores the identity
// on both the gin context and the request context.
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}
		identity, err := auth.Authenticate(extractBearerToken(c))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set(userIDContextKey, identity.UserID)
		c.Set(userRoleContextKey, identity.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, identity.UserID)
		ctx = context.WithValue(ctx, contextkey.UserRole, identity.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by AuthMiddleware.
func IdentityFromContext(c *gin.Context) (Identity, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := userID.(int64)
	if !ok {
		return Identity{}, false
	}
	role := c.GetString(userRoleContextKey)
	return Identity{UserID: id, Role: role}, true
}

// extractBearerToken reads the Authorization header, falling back to the
// access_token query parameter for websocket upgrades where browsers cannot set headers.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return strings.TrimSpace(c.Query("access_token"))
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
