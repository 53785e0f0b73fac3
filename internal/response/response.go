package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/swiftride/service-tracking/internal/domain"
)

// Pagination is the paging metadata block of a paginated response.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// Success writes a 200 response with the data envelope.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// Created writes a 201 response with the data envelope.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"data": data})
}

// Paginated writes a 200 response with items and paging metadata.
func Paginated(c *gin.Context, items interface{}, total int64, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"data":       items,
		"pagination": Pagination{Total: total, Page: page, Limit: limit},
	})
}

// BadRequest writes a 400 response with the given message.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

// Error maps a domain error to its HTTP status and writes the response.
func Error(c *gin.Context, err error) {
	var (
		validationErr   *domain.ValidationError
		notFoundErr     *domain.NotFoundError
		conflictErr     *domain.ConflictError
		invalidStateErr *domain.InvalidStateError
		forbiddenErr    *domain.ForbiddenError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Message})
	case errors.As(err, &invalidStateErr):
		c.JSON(http.StatusConflict, gin.H{"error": invalidStateErr.Error()})
	case errors.As(err, &forbiddenErr):
		c.JSON(http.StatusForbidden, gin.H{"error": forbiddenErr.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
