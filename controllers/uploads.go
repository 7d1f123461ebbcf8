package controllers

import (
	"errors"
	"net/http"

	"PolyChat/middleware"
	"PolyChat/pkg/apperr"
	svc "PolyChat/pkg/services"

	"github.com/gin-gonic/gin"
)

func UploadToken(storage *svc.AttachmentStorage) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := storage.GenerateUploadToken(c.GetString(middleware.ContextUserIDKey))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tok)
	}
}

// UploadAttachment accepts a multipart "file" plus the "upload_token" form
// field and returns the attachment's file_url.
func UploadAttachment(storage *svc.AttachmentStorage) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, svc.MaxAttachmentSize+1<<20)
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			badRequest(c, "file is required")
			return
		}
		defer file.Close()

		res, err := storage.SaveAttachment(c.GetString(middleware.ContextUserIDKey), file, header, c.PostForm("upload_token"))
		switch {
		case errors.Is(err, svc.ErrInvalidUploadToken):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": err.Error(), "code": apperr.AuthFailed})
			return
		case errors.Is(err, svc.ErrUnsupportedFile), errors.Is(err, svc.ErrFileTooLarge):
			badRequest(c, err.Error())
			return
		case err != nil:
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}
