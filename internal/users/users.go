// Package users keeps a local directory of accounts owned by the external
// identity provider. It never authenticates anyone.
package users

import (
	"context"
	"log/slog"
	"time"

	"middleman/internal/models"
	"middleman/internal/validation"
)

// Store persists users keyed by uid.
type Store interface {
	// Upsert inserts u or, when the uid exists, overwrites name, email and
	// role while keeping the original creation time.
	Upsert(ctx context.Context, u *models.User) error
	Get(ctx context.Context, uid string) (*models.User, error)
}

// UpsertRequest is the profile sync sent by the client after sign-in.
type UpsertRequest struct {
	UID   string `json:"uid" validate:"required,max=128"`
	Name  string `json:"name" validate:"max=255"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=seller buyer admin"`
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Upsert creates or refreshes a user record. Role defaults to seller.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (*models.User, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = models.RoleSeller
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	u := &models.User{
		UID:       req.UID,
		Name:      req.Name,
		Email:     req.Email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Upsert(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Debug("user upserted", "uid", u.UID, "role", u.Role)
	return u, nil
}

// Get returns a user by uid.
func (s *Service) Get(ctx context.Context, uid string) (*models.User, error) {
	return s.store.Get(ctx, uid)
}
