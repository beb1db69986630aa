package identity

import "context"

// Role is the storefront's coarse authorization level.
type Role int

const (
	// RoleCustomer is a regular shopper account.
	RoleCustomer Role = 0
	// RoleAdmin is a back-office account.
	RoleAdmin Role = 1
)

// User is the identity data a session resolves to.
type User struct {
	ID     string
	Name   string
	Email  string
	Role   Role
	Status string
}

// Lookup resolves user identities. Implementations return a
// NotFoundError (errors.Is ErrNotFound) when the id resolves to nothing.
type Lookup interface {
	FindByID(ctx context.Context, id string) (User, error)
}
