package app

import (
	"github.com/gin-gonic/gin"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/logger"
)

// Fail writes err as {"error": msg} and aborts. Internal errors are logged
// with their cause; the client only sees "internal server error".
func Fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if apperr.KindOf(err) == apperr.KindInternal {
		logger.Log.Errorw("request failed",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"err", err,
		)
	}
	c.AbortWithStatusJSON(status, H{"error": apperr.Message(err)})
}
