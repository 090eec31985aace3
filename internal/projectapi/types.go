// Package projectapi is the client for the authoritative project backend:
// request/response CRUD plus a server-sent-events stream that delivers the
// owner's full collection on every change.
package projectapi

import "time"

// Project is one item of an owner's collection.
type Project struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	IsPublic  bool      `json:"isPublic"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Favorite is client-local state. The backend never sets it.
	Favorite bool `json:"favorite,omitempty"`
}

// CreateRequest is the body of a project creation call.
type CreateRequest struct {
	OwnerID  string `json:"ownerId"`
	Name     string `json:"name"`
	IsPublic bool   `json:"isPublic"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name     *string `json:"name,omitempty"`
	IsPublic *bool   `json:"isPublic,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.IsPublic == nil
}

// IDOf returns p.ID. It is the id function used for reconciliation.
func IDOf(p Project) string { return p.ID }
