package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/knoguchi/deptrag/internal/auth"
	"github.com/knoguchi/deptrag/internal/engine"
	"github.com/knoguchi/deptrag/internal/repository"
	"github.com/knoguchi/deptrag/internal/service"
)

const maxRequestBody = 1 << 20

// Querier answers one query for a requester
type Querier interface {
	Query(ctx context.Context, requester repository.Requester, req service.QueryRequest) (*service.QueryResponse, error)
}

type queryRequestBody struct {
	Query       string  `json:"query" validate:"required,max=4000"`
	ScopeIDs    []int64 `json:"scope_ids" validate:"omitempty,dive,gt=0"`
	CategoryIDs []int64 `json:"category_ids" validate:"omitempty,dive,gt=0"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

type queryHandler struct {
	querier  Querier
	validate *validator.Validate
	logger   *slog.Logger
}

func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	var body queryRequestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body: " + err.Error()})
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: validationDetail(err)})
		return
	}

	requester := auth.RequesterFromContext(r.Context())
	resp, err := h.querier.Query(r.Context(), requester, service.QueryRequest{
		Query:       body.Query,
		ScopeIDs:    body.ScopeIDs,
		CategoryIDs: body.CategoryIDs,
	})
	if err != nil {
		status, detail := mapError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("query request failed",
				"status", status,
				"error", err,
				"request_id", middleware.GetReqID(r.Context()),
			)
		}
		writeJSON(w, status, errorBody{Detail: detail})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// mapError turns a service error into an HTTP status and a client-safe message
func mapError(err error) (int, string) {
	var unavailable *engine.UnavailableError
	switch {
	case errors.Is(err, service.ErrScopeRequired):
		return http.StatusBadRequest, service.ErrScopeRequired.Error()
	case errors.Is(err, service.ErrInvalidQuery):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, fmt.Sprintf(
			"retrieval engine for department %d is not initialized; check the system configuration and index data",
			unavailable.DepartmentID)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "query timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "query canceled"
	default:
		return http.StatusInternalServerError, service.ErrInternal.Error()
	}
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", jsonName(fe.StructField()))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", jsonName(fe.StructField()), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must contain positive ids", jsonName(fe.StructField()))
	default:
		return fmt.Sprintf("%s is invalid", jsonName(fe.StructField()))
	}
}

func jsonName(field string) string {
	field, _, _ = strings.Cut(field, "[")
	switch field {
	case "Query":
		return "query"
	case "ScopeIDs":
		return "scope_ids"
	case "CategoryIDs":
		return "category_ids"
	default:
		return field
	}
}
