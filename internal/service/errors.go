package service

import "errors"

var (
	// ErrScopeRequired is returned when no department can be determined for the query
	ErrScopeRequired = errors.New("scope_ids is required for anonymous queries")

	// ErrInvalidQuery is returned for an empty query text
	ErrInvalidQuery = errors.New("query is required")

	// ErrInternal wraps unexpected failures during scope resolution, retrieval or reranking
	ErrInternal = errors.New("query processing failed")
)
