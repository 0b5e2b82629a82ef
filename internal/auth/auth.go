// Package auth assigns roles to users signing in through the external
// identity provider.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joeblew999/plat-webgis/internal/layer"
)

// Role is a user's permission level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is a known account.
type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLogin   time.Time `json:"lastLogin"`
}

// Identity is what the client reports after signing in.
type Identity struct {
	UID         string `json:"uid" doc:"Identity provider user id"`
	Email       string `json:"email" doc:"User email"`
	DisplayName string `json:"displayName,omitempty" doc:"Display name"`
	PhotoURL    string `json:"photoURL,omitempty" doc:"Avatar URL"`
}

// Repository persists users.
type Repository interface {
	GetUser(ctx context.Context, uid string) (User, bool, error)
	SaveUser(ctx context.Context, u User) error
}

// Service verifies identities and keeps user roles current.
type Service struct {
	repo   Repository
	admins []string
	now    func() time.Time
}

// NewService creates a service. adminEmails is the whitelist of admin
// accounts, compared case-insensitively.
func NewService(repo Repository, adminEmails []string) *Service {
	admins := make([]string, 0, len(adminEmails))
	for _, e := range adminEmails {
		if e = strings.TrimSpace(e); e != "" {
			admins = append(admins, strings.ToLower(e))
		}
	}
	return &Service{
		repo:   repo,
		admins: admins,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// IsAdminEmail reports whether email is whitelisted or contains "admin".
func (s *Service) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, a := range s.admins {
		if a == email {
			return true
		}
	}
	return strings.Contains(email, "admin")
}

// Verify records a sign-in. New users get a role from their email; existing
// users are promoted to admin when they now qualify, never demoted.
func (s *Service) Verify(ctx context.Context, id Identity) (User, error) {
	if id.UID == "" || id.Email == "" {
		return User{}, fmt.Errorf("%w: uid and email are required", layer.ErrValidation)
	}

	u, found, err := s.repo.GetUser(ctx, id.UID)
	if err != nil {
		return User{}, fmt.Errorf("load user %s: %w", id.UID, err)
	}

	now := s.now()
	if !found {
		u = User{
			UID:         id.UID,
			Email:       id.Email,
			DisplayName: id.DisplayName,
			PhotoURL:    id.PhotoURL,
			Role:        RoleUser,
			CreatedAt:   now,
		}
		if s.IsAdminEmail(id.Email) {
			u.Role = RoleAdmin
		}
	} else if s.IsAdminEmail(id.Email) {
		u.Role = RoleAdmin
	}
	u.LastLogin = now

	if err := s.repo.SaveUser(ctx, u); err != nil {
		return User{}, fmt.Errorf("save user %s: %w", id.UID, err)
	}
	return u, nil
}
