// Package httpx maps tagged business errors onto HTTP responses.
package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// Error writes a structured error response derived from err's kind.
// Errors without a kind are treated as internal and their details are not
// leaked to the client.
func Error(c *gin.Context, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
		return
	}

	body := gin.H{
		"error":   string(fe.Kind),
		"message": fe.Message,
	}
	if fe.Field != "" {
		body["field"] = fe.Field
	}
	c.JSON(fault.HTTPStatus(fe.Kind), body)
}
