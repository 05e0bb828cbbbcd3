package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/dto"
	"github.com/princinho/racebackend/middleware"
)

// POST /register
func Register(a *auth.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.RegisterDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}

		user, err := a.Register(c.Request.Context(), auth.RegisterInput{
			Email:    body.Email,
			Name:     body.Name,
			Phone:    body.PhoneNumber,
			Password: body.Password,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

// POST /login
func Login(a *auth.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.LoginDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}

		pair, err := a.Login(c.Request.Context(), body.Email, body.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}

// POST /refresh
func Refresh(a *auth.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		pair, err := a.Refresh(c.Request.Context(), c.GetHeader(middleware.RefreshTokenHeader))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}

// POST /logout
func Logout(a *auth.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Logout(c.Request.Context(), c.GetHeader(middleware.RefreshTokenHeader)); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "logged out"})
	}
}
