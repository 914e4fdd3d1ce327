package app

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/session"
	"github.com/nawapolsungjun/borrow-it/token"
)

const AuthCookie = "auth_token"

const (
	identityKey  = "identity"
	sessionIDKey = "sessionID"
)

var errUnauthorized = apperr.Unauthorized("unauthorized")

// Identifier re-reads the caller behind a token.
type Identifier interface {
	Identify(ctx context.Context, userID uint) (models.Identity, error)
}

// RequestToken takes the cookie first, then an Authorization: Bearer header.
func RequestToken(c *gin.Context) string {
	if ck, err := c.Request.Cookie(AuthCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	h := c.GetHeader("Authorization")
	if scheme, raw, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(raw)
	}
	return ""
}

// AuthRequired accepts a request only when its token verifies, its session
// is still registered and its user still exists.
func AuthRequired(tokens *token.Manager, sessions *session.AppSessionStore, users Identifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := RequestToken(c)
		if raw == "" {
			Fail(c, errUnauthorized)
			return
		}
		claims, err := tokens.Parse(raw)
		if err != nil {
			Fail(c, apperr.Unauthorized("invalid token"))
			return
		}
		uid, _ := claims.UserID()

		ctx := c.Request.Context()
		as, err := sessions.Get(ctx, claims.ID)
		if errors.Is(err, session.ErrNotFound) {
			Fail(c, apperr.Unauthorized("session expired"))
			return
		}
		if err != nil {
			Fail(c, apperr.Internal(err))
			return
		}
		if as.UserID != uid {
			Fail(c, errUnauthorized)
			return
		}

		// 这里确认用户仍存在，角色以数据库为准
		id, err := users.Identify(ctx, uid)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindUnauthorized {
				_ = sessions.Delete(ctx, claims.ID)
			}
			Fail(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Set(sessionIDKey, claims.ID)
		c.Next()
	}
}

func CurrentIdentity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}

// SessionID is the jti of the token that authenticated the request.
func SessionID(c *gin.Context) string { return c.GetString(sessionIDKey) }

// RoleRequired must run after AuthRequired.
func RoleRequired(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			Fail(c, errUnauthorized)
			return
		}
		if id.Role != role {
			Fail(c, apperr.Forbidden("forbidden"))
			return
		}
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc { return RoleRequired(models.RoleAdmin) }
