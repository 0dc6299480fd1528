package domain

import "time"

// User represents a shop account.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	IsAdmin      bool
	CreatedAt    time.Time
}
