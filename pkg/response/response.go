package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Ack sends a 200 with only a message; used for provider callbacks.
func Ack(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, Body{Success: true, Message: msg})
}

// Error sends status with a machine-readable code and a human-readable message.
func Error(c *gin.Context, status int, code, msg string) {
	c.JSON(status, Body{Success: false, ErrorCode: code, Message: msg})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", msg)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, msg string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", msg)
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, msg string) {
	Error(c, http.StatusForbidden, "FORBIDDEN", msg)
}

// NotFound sends 404.
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, "NOT_FOUND", msg)
}

// Internal sends 500. msg must not carry internal error text.
func Internal(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", msg)
}
