package models

import (
	"time"

	"github.com/google/uuid"
)

// Role controls what operations a user may perform.
type Role string

const (
	// RoleUser is the default role: create, deposit, initiate, execute,
	// refund, and dispute settlements.
	RoleUser Role = "user"

	// RoleAdmin additionally resolves disputes.
	RoleAdmin Role = "admin"
)

// User represents a registered caller identity.
type User struct {
	// ID is the unique identifier for the user (UUID format).
	ID string `json:"id"`

	Email       string `json:"email"`
	DisplayName string `json:"displayName"`

	// PasswordHash is the bcrypt hash of the user's password.
	// Never serialized.
	PasswordHash string `json:"-"`

	Role Role `json:"role"`

	// CreatedAt is the Unix timestamp when the user registered.
	CreatedAt int64 `json:"createdAt"`
}

// NewUser creates a user with a fresh UUID and the default role.
func NewUser(email, displayName, passwordHash string) *User {
	return &User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		Role:         RoleUser,
		CreatedAt:    time.Now().Unix(),
	}
}
