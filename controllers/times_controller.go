package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/logger"
	"github.com/princinho/racebackend/proof"
	"github.com/princinho/racebackend/results"
	"github.com/princinho/racebackend/utils"
)

// multipartOverhead leaves room for the form fields around the image.
const multipartOverhead = 1 << 20

func rejectProof(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).WithError(err).Error("proof processing failed")
	}
	msg := apperr.PublicMessage(err)
	c.JSON(status, gin.H{"checkpoint": -1, "msg": msg, "error": msg, "code": apperr.CodeOf(err)})
}

func rejectUpload(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"checkpoint": -1, "msg": msg, "error": msg, "code": code})
}

// POST /times (multipart: image, course)
func SubmitTime(v *proof.Validator, files *utils.FileValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, files.MaxSize()+multipartOverhead)

		fh, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				rejectUpload(c, http.StatusRequestEntityTooLarge, "file_too_large", "image is too large")
				return
			}
			rejectUpload(c, http.StatusBadRequest, "missing_image", "an image file is required")
			return
		}
		course := strings.TrimSpace(c.PostForm("course"))
		if course == "" {
			rejectUpload(c, http.StatusBadRequest, "missing_course", "a course name is required")
			return
		}

		data, contentType, err := files.ReadFile(fh)
		switch {
		case errors.Is(err, utils.ErrFileTooLarge):
			rejectUpload(c, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
			return
		case errors.Is(err, utils.ErrInvalidExtension), errors.Is(err, utils.ErrInvalidMime):
			rejectUpload(c, http.StatusBadRequest, "invalid_file_type", err.Error())
			return
		case err != nil:
			rejectProof(c, apperr.Processing("an error occurred processing the image", err))
			return
		}

		res, err := v.Submit(c.Request.Context(), id, proof.Submission{
			CourseName:  course,
			Image:       data,
			ContentType: contentType,
		})
		if err != nil {
			rejectProof(c, err)
			return
		}

		msg := fmt.Sprintf("checkpoint %d recorded", res.Checkpoint)
		if res.Improved {
			msg = fmt.Sprintf("time improved at checkpoint %d", res.Checkpoint)
		}
		c.JSON(http.StatusCreated, gin.H{"checkpoint": res.Checkpoint, "msg": msg})
	}
}

// GET /times?course=
func ListTimes(svc *results.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		board, err := svc.ListTimes(c.Request.Context(), id, c.Query("course"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, board)
	}
}

// GET /times/uploaded?course=
func UploadedTimes(svc *results.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		up, err := svc.UploadedTimes(c.Request.Context(), id, c.Query("course"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, up)
	}
}

// DELETE /times?course=&email=
func DeleteTimes(svc *results.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		removed, err := svc.DeleteTimes(c.Request.Context(), id, c.Query("course"), c.Query("email"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "times deleted", "removed": removed})
	}
}
