package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/topic-registry-api/internal/middleware"
	"github.com/noah-isme/topic-registry-api/internal/models"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
	"github.com/noah-isme/topic-registry-api/pkg/response"
)

// claimsFromContext returns the claims the JWT middleware stored, or nil when
// the request is anonymous. Services treat nil claims as unauthenticated.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, _ := c.Get(middleware.ContextUserKey)
	typed, _ := claims.(*models.JWTClaims)
	return typed
}

// currentUserID aborts with 401 when the request carries no user.
func currentUserID(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return claims.UserID, true
}
