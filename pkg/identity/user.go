package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

type Role string

const (
	RoleNone  Role = "none"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	AccessToken string    `json:"-"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AuthHash identifies the credentials a session was bound with. It changes
// whenever the access token is replaced.
func (u *User) AuthHash() string {
	sum := sha256.Sum256([]byte(u.AccessToken))
	return hex.EncodeToString(sum[:])
}

type Store interface {
	// UpsertUser inserts a user or replaces the access token of the existing
	// user with the same username, and returns the stored row.
	UpsertUser(ctx context.Context, username, accessToken string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	SetRole(ctx context.Context, username string, role Role) error
	CountUsers(ctx context.Context) (int, error)
}
