package controllers

import (
	"PolyChat/pkg/apperr"
	"PolyChat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError writes the coded error body {"msg", "code"} with the status
// the error maps to. Unexpected failures are logged with their cause.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	if code == "" {
		code = apperr.Store
	}
	if status >= 500 {
		logger.Named("http").Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"msg": apperr.ReasonOf(err), "code": code})
}

func badRequest(c *gin.Context, reason string) {
	respondError(c, apperr.Validationf("%s", reason))
}
