package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/logger"
)

const (
	AccessTokenHeader  = "Access-Token"
	RefreshTokenHeader = "Refresh-Token"

	identityKey = "identity"
)

func AuthMiddleware(authority *auth.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := authority.Authenticate(c.Request.Context(), c.GetHeader(AccessTokenHeader))
		if err != nil {
			status := apperr.HTTPStatus(err)
			if status == http.StatusInternalServerError {
				logger.WithContext(c.Request.Context()).WithError(err).Error("authentication failed")
			}
			c.AbortWithStatusJSON(status, gin.H{"error": apperr.PublicMessage(err), "code": apperr.CodeOf(err)})
			return
		}

		c.Set(identityKey, *id)
		c.Request = c.Request.WithContext(logger.WithUser(c.Request.Context(), id.Email))
		c.Next()
	}
}

// IdentityFrom returns the caller set by AuthMiddleware.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
