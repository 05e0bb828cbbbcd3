package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/racebackend/dto"
	"github.com/princinho/racebackend/users"
)

// GET /users
func GetUser(svc *users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		profile, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

// PATCH /users
func UpdateUser(svc *users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var body dto.UpdateUserDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}

		profile, err := svc.Update(c.Request.Context(), id, users.UpdateInput{
			Email:       body.Email,
			Name:        body.Name,
			PhoneNumber: body.PhoneNumber,
			Password:    body.Password,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

// DELETE /users
func DeleteUser(svc *users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		if err := svc.Delete(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "user deleted"})
	}
}
