package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeNotFound      = 404
	CodeTooManyReqs   = 429
	CodeServerError   = 500
	CodeUnavailable   = 503
	CodeBusinessError = 1000
)

const (
	CodeReceivableNotFound = 1001
	CodeRequestNotFound    = 1002
	CodeBalanceNotEnough   = 1003
	CodeAlreadyProcessed   = 1004
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Outcome is a 200 with a non-zero body code that still carries data, for results the
// caller should notice but that are not failures.
func Outcome(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Error writes a failure with the given HTTP status and body code.
func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

// BusinessError reports an expected domain outcome. The request itself was fine, so the
// HTTP status stays 200 and the body code carries the outcome.
func BusinessError(c *gin.Context, code int, message string) {
	Error(c, http.StatusOK, code, message)
}

// Unavailable tells the client the unit of work was rolled back and may be retried.
func Unavailable(c *gin.Context, message string) {
	Error(c, http.StatusServiceUnavailable, CodeUnavailable, message)
}

func TooManyRequests(c *gin.Context) {
	Error(c, http.StatusTooManyRequests, CodeTooManyReqs, "too many requests")
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}
