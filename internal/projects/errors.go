package projects

import "fmt"

// Mutation operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// MutationError is an authoritative create, update or delete that failed.
// Optimistic state has already been rolled back when it is returned.
type MutationError struct {
	Op  string
	ID  string
	Err error
}

func (e *MutationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("project %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("project %s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
