// Package repository defines domain models and data access interfaces for the document catalog,
// file permissions, query users and query history.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// RequesterKind tags the identity behind a query
type RequesterKind int

const (
	// RequesterAnonymous is a caller without identity
	RequesterAnonymous RequesterKind = iota
	// RequesterQueryUser is an approved, active query user
	RequesterQueryUser
)

// Requester identifies who is asking. It is immutable for the duration of one query.
type Requester struct {
	Kind                RequesterKind
	UserID              int64
	Username            string
	DefaultDepartmentID int64 // 0 means no default department
}

// Anonymous returns the requester for unauthenticated callers
func Anonymous() Requester {
	return Requester{Kind: RequesterAnonymous}
}

// AuthenticatedQueryUser returns the requester for an authenticated query user
func AuthenticatedQueryUser(id int64, username string, defaultDepartmentID int64) Requester {
	return Requester{
		Kind:                RequesterQueryUser,
		UserID:              id,
		Username:            username,
		DefaultDepartmentID: defaultDepartmentID,
	}
}

// Class returns the requester class recorded in query history
func (r Requester) Class() string {
	switch r.Kind {
	case RequesterQueryUser:
		return "query_user"
	default:
		return "anonymous"
	}
}

// Document is a corpus file as seen by the query path
type Document struct {
	ID           int64
	DepartmentID int64
	CategoryID   *int64
	Filename     string // original filename, the join key against retrieval output
	IsPublic     bool
	IsVectorized bool
}

// Category groups documents of a department
type Category struct {
	ID           int64
	DepartmentID int64
	Name         string
}

// PermissionGrant gives one query user access to one file
type PermissionGrant struct {
	ID          int64
	QueryUserID int64
	FileID      int64
	GrantedBy   *int64
	GrantedAt   time.Time
	Notes       string
}

// QueryUserStatus is the approval state of a query user account
type QueryUserStatus string

const (
	QueryUserPending   QueryUserStatus = "pending"
	QueryUserApproved  QueryUserStatus = "approved"
	QueryUserRejected  QueryUserStatus = "rejected"
	QueryUserSuspended QueryUserStatus = "suspended"
)

// QueryUser is a front-end query account
type QueryUser struct {
	ID                  int64
	Username            string
	DefaultDepartmentID *int64
	Status              QueryUserStatus
	IsActive            bool
}

// CanQuery reports whether the account may authenticate queries
func (u *QueryUser) CanQuery() bool {
	return u.Status == QueryUserApproved && u.IsActive
}

// QueryHistory is an append-only record of one answered query
type QueryHistory struct {
	ID             int64
	DepartmentID   int64
	Query          string
	Answer         string
	ProcessingTime float64 // seconds
	SourceCount    int
	QueryType      string
	Scope          string // requester class
	ExtraData      map[string]any
	CreatedAt      time.Time
}

// FileFilter narrows ListFilenames. Nil fields are not filtered on.
type FileFilter struct {
	IsPublic     *bool
	IsVectorized *bool
	CategoryIDs  []int64 // empty means any category
}

// DocumentCatalog provides read-only lookups over department documents
type DocumentCatalog interface {
	ListFilenames(ctx context.Context, departmentID int64, filter FileFilter) ([]string, error)
	FindByFilename(ctx context.Context, departmentID int64, filename string) (*Document, error)
	ResolveCategoryIDByName(ctx context.Context, departmentID int64, name string) (int64, error)
}

// PermissionStore provides read-only lookups over file permission grants
type PermissionStore interface {
	// ListGrantedFilenames returns filenames of vectorized department files granted to the user
	ListGrantedFilenames(ctx context.Context, queryUserID, departmentID int64) ([]string, error)
}

// QueryUserRepository looks up query user accounts
type QueryUserRepository interface {
	GetByID(ctx context.Context, id int64) (*QueryUser, error)
}

// QueryHistoryRepository appends query history records
type QueryHistoryRepository interface {
	Create(ctx context.Context, record *QueryHistory) error
}

// Bool returns a pointer to b, for FileFilter fields
func Bool(b bool) *bool {
	return &b
}
