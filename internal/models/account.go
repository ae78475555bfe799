package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider represents how an account signs in
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGitHub Provider = "GITHUB"
	ProviderGoogle Provider = "GOOGLE"
)

// Role represents an account's privilege level
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account represents a registered user or administrator
type Account struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash *string   `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	Provider     Provider  `db:"provider" json:"provider"`
	ProviderID   *string   `db:"provider_id" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// RegisterInput represents the body of a registration request
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginInput represents the body of a login request
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by register, login and OAuth callbacks
type AuthResponse struct {
	Token string   `json:"token"`
	User  *Account `json:"user"`
}

// String returns the string representation of Provider
func (p Provider) String() string {
	return string(p)
}

// IsValid checks if the provider is valid
func (p Provider) IsValid() bool {
	return p == ProviderLocal || p == ProviderGitHub || p == ProviderGoogle
}

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}
