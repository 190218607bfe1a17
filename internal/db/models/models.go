// Package models defines the persistent data model of the conversion service.
package models

// DefaultPageSize is the default number of rows returned by list queries.
const DefaultPageSize = 50

// ListOptions contains pagination and filter parameters for list queries.
type ListOptions struct {
	Limit  int
	Offset int
	// Status filters jobs by lifecycle state when non-nil.
	Status *JobStatus
}

// DefaultListOptions returns list options with the default page size.
func DefaultListOptions() *ListOptions {
	return &ListOptions{Limit: DefaultPageSize}
}
