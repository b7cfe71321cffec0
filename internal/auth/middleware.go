// Package auth binds the upstream identity provider to request handling.
//
// Session issuance and credential checks live in the auth gateway in front
// of this service; it forwards the authenticated actor as trusted headers.
// The core trusts that identity but re-validates ownership and permission
// on every mutating operation itself.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyActorID is the gin context key for the authenticated actor.
	ContextKeyActorID = "actorID"
	// ContextKeyActorRole is the gin context key for the actor's role.
	ContextKeyActorRole = "actorRole"

	headerActorID   = "X-Actor-Id"
	headerActorRole = "X-Actor-Role"
	headerSweepKey  = "X-Sweep-Secret"

	// RoleAdmin marks operators who may use override endpoints.
	RoleAdmin = "admin"
)

// Middleware extracts the actor identity forwarded by the auth gateway.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(headerActorID); id != "" {
			c.Set(ContextKeyActorID, id)
			c.Set(ContextKeyActorRole, c.GetHeader(headerActorRole))
		}
		c.Next()
	}
}

// RequireActor rejects requests without a forwarded identity.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyActorID); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests from actors without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin role required.",
			})
			return
		}
		c.Next()
	}
}

// RequireSweepSecret guards scheduler endpoints with a shared secret
// instead of user session auth.
func RequireSweepSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(headerSweepKey)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid sweep secret.",
			})
			return
		}
		c.Next()
	}
}

// ActorID returns the authenticated actor id, or "" if unauthenticated.
func ActorID(c *gin.Context) string {
	return c.GetString(ContextKeyActorID)
}

// IsAdmin reports whether the authenticated actor has the admin role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextKeyActorRole) == RoleAdmin
}
