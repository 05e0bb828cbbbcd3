package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/logger"
	"github.com/princinho/racebackend/middleware"
)

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err), "code": apperr.CodeOf(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
}

// identity writes a 401 when the auth middleware did not run.
func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "missing_token"})
	}
	return id, ok
}
