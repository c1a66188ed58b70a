package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	domainerrors "github.com/mirror-labs/mirror_service/internal/domain/errors"
)

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondBadRequest sends a bad request error
func respondBadRequest(c *gin.Context, message string, details ...map[string]interface{}) {
	var det map[string]interface{}
	if len(details) > 0 {
		det = details[0]
	}
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", message, det)
}

// respondInternalError sends an internal server error
func respondInternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

// respondNotFound sends a not found error
func respondNotFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// respondConflict sends a conflict error
func respondConflict(c *gin.Context, message string) {
	respondError(c, http.StatusConflict, "CONFLICT", message, nil)
}

// respondSuccess sends a success response with data
func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// respondCreated sends a created response with data
func respondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// respondDomainError maps a domain error onto the right HTTP status
func respondDomainError(c *gin.Context, err error) {
	code := domainerrors.GetErrorCode(err)
	switch {
	case domainerrors.IsNotFound(err):
		respondError(c, http.StatusNotFound, code, err.Error(), nil)
	case domainerrors.IsInvalidInput(err):
		respondError(c, http.StatusBadRequest, code, err.Error(), domainerrors.GetErrorDetails(err))
	case domainerrors.IsConflict(err):
		respondError(c, http.StatusConflict, code, err.Error(), nil)
	default:
		respondError(c, http.StatusInternalServerError, code, "internal error", nil)
	}
}

// parseUUID parses a string to uuid.UUID
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("empty UUID string")
	}
	return uuid.Parse(s)
}
