package worker

import (
	"context"

	"github.com/google/uuid"

	"trustflow/auth"
	"trustflow/fault"
)

// ProfileStore abstracts repository operations for the service.
type ProfileStore interface {
	Create(ctx context.Context, p Profile) (Profile, error)
	GetByUserID(ctx context.Context, userID string) (Profile, error)
	ListAvailable(ctx context.Context, category string, limit int) ([]Profile, error)
	SetAvailability(ctx context.Context, userID string, available bool) (Profile, error)
}

// Service exposes business-level worker profile operations.
type Service struct {
	repo        ProfileStore
	idGenerator func() string
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileStore) *Service {
	return &Service{
		repo:        repo,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// CreateParams describes a new marketplace profile.
type CreateParams struct {
	Owner      auth.Identity
	Category   string
	Bio        string
	HourlyRate int64
}

// Create opens a marketplace profile for a worker account.
func (s *Service) Create(ctx context.Context, params CreateParams) (Profile, error) {
	if params.Owner.Role != auth.RoleWorker {
		return Profile{}, fault.New(fault.Unauthorized, "worker: only worker accounts hold profiles")
	}
	if params.Category == "" {
		return Profile{}, fault.New(fault.Validation, "worker: category is required")
	}
	if params.HourlyRate <= 0 {
		return Profile{}, fault.New(fault.Validation, "worker: hourly rate must be positive")
	}

	return s.repo.Create(ctx, Profile{
		ID:         s.idGenerator(),
		UserID:     params.Owner.UserID,
		Category:   params.Category,
		Bio:        params.Bio,
		HourlyRate: params.HourlyRate,
		Available:  true,
	})
}

// GetByUserID returns the profile owned by the given user.
func (s *Service) GetByUserID(ctx context.Context, userID string) (Profile, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// ListAvailable returns up to limit available profiles in a category.
func (s *Service) ListAvailable(ctx context.Context, category string, limit int) ([]Profile, error) {
	return s.repo.ListAvailable(ctx, category, limit)
}

// SetAvailability lets a worker pause or resume marketplace visibility.
func (s *Service) SetAvailability(ctx context.Context, owner auth.Identity, available bool) (Profile, error) {
	return s.repo.SetAvailability(ctx, owner.UserID, available)
}
