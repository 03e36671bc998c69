package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response standard response structure
type Response struct {
	Code      ErrorCode   `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// SuccessResponse writes a 200 with data.
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeOK,
		Message:   "success",
		Data:      data,
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().Unix(),
	})
}

// ErrorResponse writes err with the status and code derived from its class.
func ErrorResponse(c *gin.Context, err error) {
	message := err.Error()
	if appErr, ok := AsAppError(err); ok && appErr.Code == CodePersistence {
		// storage details stay in the logs
		message = appErr.Message
	}
	c.AbortWithStatusJSON(HTTPStatus(err), Response{
		Code:      GetErrorCode(err),
		Message:   message,
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().Unix(),
	})
}

// AbortWithStatus writes a bare status/message response.
func AbortWithStatus(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:      ErrorCode(status),
		Message:   message,
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().Unix(),
	})
}
