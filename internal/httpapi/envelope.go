// Package httpapi wires the gin HTTP surface over the auth orchestrator and
// payment gate: request-gating middleware chain, route handlers, and the
// response envelope every handler writes through.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/shieldcart-auth/internal/apierror"
)

// Envelope is the fixed response shape every handler writes.
type Envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Status: "success", Data: data})
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Status: "success", Message: message})
}

func respondError(c *gin.Context, err error) {
	apiErr := apierror.As(err)
	c.JSON(apiErr.Status(), Envelope{Status: "error", Message: apiErr.Message})
}

func respondErrorStatus(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Status: "error", Message: message})
}
