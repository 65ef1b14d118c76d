// Package service implements the case, conversation and query engines on top
// of the database, the vector index and the model clients.
package service

import "errors"

var (
	ErrCaseNotFound    = errors.New("case not found")
	ErrCaseClosed      = errors.New("case is closed")
	ErrInvalidCaseType = errors.New("invalid case type")
	ErrInvalidTitle    = errors.New("invalid case title")
	ErrEmptyDocument   = errors.New("document content is empty")
	ErrEmptyQuery      = errors.New("query text is empty")
)
