package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/knoguchi/deptrag/internal/repository"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const requesterContextKey contextKey = "requester"

// Authenticator resolves the optional bearer token of a request to a Requester
type Authenticator struct {
	tokens *JWTManager
	users  repository.QueryUserRepository
	logger *slog.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(tokens *JWTManager, users repository.QueryUserRepository, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{tokens: tokens, users: users, logger: logger}
}

// Authenticate returns the query user behind the Authorization header value, or Anonymous.
// Missing, invalid or expired tokens and unapproved or inactive accounts all yield Anonymous.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) repository.Requester {
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return repository.Anonymous()
	}

	userID, err := a.tokens.ValidateQueryUserToken(strings.TrimSpace(token))
	if err != nil {
		a.logger.Debug("ignoring bearer token", "error", err)
		return repository.Anonymous()
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			a.logger.Warn("query user lookup failed", "query_user_id", userID, "error", err)
		}
		return repository.Anonymous()
	}
	if !user.CanQuery() {
		a.logger.Debug("query user may not query", "query_user_id", userID, "status", user.Status, "active", user.IsActive)
		return repository.Anonymous()
	}

	var dept int64
	if user.DefaultDepartmentID != nil {
		dept = *user.DefaultDepartmentID
	}
	return repository.AuthenticatedQueryUser(user.ID, user.Username, dept)
}

// Middleware stores the request's Requester in its context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), requester)))
	})
}

// WithRequester returns a copy of ctx carrying requester
func WithRequester(ctx context.Context, requester repository.Requester) context.Context {
	return context.WithValue(ctx, requesterContextKey, requester)
}

// RequesterFromContext extracts the requester from context; absent means anonymous
func RequesterFromContext(ctx context.Context) repository.Requester {
	requester, ok := ctx.Value(requesterContextKey).(repository.Requester)
	if !ok {
		return repository.Anonymous()
	}
	return requester
}
