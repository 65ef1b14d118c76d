// Shared error-to-HTTP mapping for API handlers
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/limitless/limitless/pkg/llm"
	"github.com/limitless/limitless/pkg/service"
	"github.com/limitless/limitless/pkg/vectorindex"
)

// Stable error kinds for API clients. Messages may change; kinds do not.
const (
	KindInvalidInput      = "invalid_input"
	KindNotFound          = "not_found"
	KindCaseClosed        = "case_closed"
	KindEmbeddingService  = "embedding_service"
	KindGenerationService = "generation_service"
	KindIndexCorruption   = "index_corruption"
	KindInternal          = "internal"
)

// respondError maps service errors onto HTTP statuses and stable kinds.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := KindInternal

	switch {
	case errors.Is(err, service.ErrCaseNotFound):
		status, kind = http.StatusNotFound, KindNotFound
	case errors.Is(err, service.ErrCaseClosed):
		status, kind = http.StatusConflict, KindCaseClosed
	case errors.Is(err, service.ErrInvalidTitle),
		errors.Is(err, service.ErrInvalidCaseType),
		errors.Is(err, service.ErrEmptyDocument),
		errors.Is(err, service.ErrEmptyQuery):
		status, kind = http.StatusBadRequest, KindInvalidInput
	case errors.Is(err, llm.ErrEmbeddingService):
		status, kind = http.StatusBadGateway, KindEmbeddingService
	case errors.Is(err, llm.ErrGenerationService):
		status, kind = http.StatusBadGateway, KindGenerationService
	case errors.Is(err, vectorindex.ErrIndexCorrupted):
		status, kind = http.StatusInternalServerError, KindIndexCorruption
	}

	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
