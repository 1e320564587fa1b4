package model

import "time"

type Role int

const (
	RoleAdmin Role = iota
	RoleTeacher
	RoleStudent
)

type Status int

const (
	StatusDisabled Status = iota
	StatusActive
)

// User is the cached profile view of an account. Credentials never appear here.
type User struct {
	ID      string   `json:"id"`
	Name    string   `json:"name" validate:"required,max=64"`
	Role    Role     `json:"role" validate:"gte=0,lte=2"`
	Status  Status   `json:"status" validate:"gte=0,lte=1"`
	Profile *Profile `json:"profile,omitempty"`
}

// Profile fields are optional; nil means "not set", which is distinct from
// an empty string.
type Profile struct {
	Phone    *string    `json:"phone,omitempty"`
	Email    *string    `json:"email,omitempty" validate:"omitempty,email"`
	Address  *string    `json:"address,omitempty"`
	Avatar   *string    `json:"avatar,omitempty"`
	Birthday *time.Time `json:"birthday,omitempty"`
}

func (u User) Active() bool { return u.Status == StatusActive }
