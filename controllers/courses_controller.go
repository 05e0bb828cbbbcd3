package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/racebackend/courses"
	"github.com/princinho/racebackend/dto"
)

// POST /courses
func CreateCourse(svc *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var body dto.CreateCourseDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}

		course, err := svc.Create(c.Request.Context(), id, body.Input())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, course)
	}
}

// GET /courses lists every course; GET /courses?name= returns one.
func GetCourses(svc *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		if name, given := c.GetQuery("name"); given {
			course, err := svc.Get(c.Request.Context(), id, name)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, course)
			return
		}

		list, err := svc.List(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// PATCH /courses?name=
func UpdateCourse(svc *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var body dto.UpdateCourseDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}

		course, err := svc.Update(c.Request.Context(), id, c.Query("name"), body.Input())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, course)
	}
}

// DELETE /courses?name=
func DeleteCourse(svc *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		if err := svc.Delete(c.Request.Context(), id, c.Query("name")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "course deleted"})
	}
}
