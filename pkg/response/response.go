package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type ErrorData struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
}

// Body builds an error envelope for use with AbortWithStatusJSON
func Body(code, message string) Response {
	return Response{
		Success: false,
		Error:   &ErrorData{Code: code, Message: message},
	}
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{Success: true, Data: data})
}

func List(c *gin.Context, data interface{}, total int) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    gin.H{"total": total},
	})
}

func Error(c *gin.Context, status int, e *ErrorData) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: e})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, &ErrorData{Code: "BAD_REQUEST", Message: message})
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, &ErrorData{Code: "NOT_FOUND", Message: message})
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, &ErrorData{Code: "UNAUTHORIZED", Message: message})
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, &ErrorData{Code: "FORBIDDEN", Message: message})
}

func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, &ErrorData{Code: "INTERNAL_ERROR", Message: "Internal Server Error"})
}
