package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustflow/fault"
)

// ErrNotFound signals the requested worker profile does not exist.
var ErrNotFound error = fault.New(fault.NotFound, "worker: profile not found")

// ErrProfileExists signals the user already has a worker profile.
var ErrProfileExists error = fault.New(fault.Conflict, "worker: profile already exists")

const profileColumns = `id, user_id, category, bio, hourly_rate, rating, completed_jobs, available, created_at, updated_at`

// Repository provides access to worker profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new worker profile. Each user holds at most one.
func (r *Repository) Create(ctx context.Context, p Profile) (Profile, error) {
	const query = `
		INSERT INTO worker_profiles (id, user_id, category, bio, hourly_rate, available)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING ` + profileColumns

	row := r.pool.QueryRow(ctx, query, p.ID, p.UserID, p.Category, p.Bio, p.HourlyRate, p.Available)
	created, err := scanProfile(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Profile{}, ErrProfileExists
		}
		return Profile{}, fmt.Errorf("worker: insert profile: %w", err)
	}
	return created, nil
}

// GetByUserID fetches a worker profile by the owning user.
func (r *Repository) GetByUserID(ctx context.Context, userID string) (Profile, error) {
	const query = `
		SELECT ` + profileColumns + `
		FROM worker_profiles
		WHERE user_id = $1
	`

	p, err := scanProfile(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("worker: query by user id: %w", err)
	}
	return p, nil
}

// ListAvailable fetches up to limit available profiles, best rated first.
// An empty category matches all categories.
func (r *Repository) ListAvailable(ctx context.Context, category string, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT ` + profileColumns + `
		FROM worker_profiles
		WHERE available AND ($1 = '' OR category = $1)
		ORDER BY rating DESC, completed_jobs DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, category, limit)
	if err != nil {
		return nil, fmt.Errorf("worker: list available: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("worker: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("worker: iterate profiles: %w", err)
	}

	return profiles, nil
}

// SetAvailability flips whether the worker shows up in marketplace listings.
func (r *Repository) SetAvailability(ctx context.Context, userID string, available bool) (Profile, error) {
	const query = `
		UPDATE worker_profiles
		SET available = $2, updated_at = now()
		WHERE user_id = $1
		RETURNING ` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, query, userID, available))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("worker: set availability: %w", err)
	}
	return p, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Category,
		&p.Bio,
		&p.HourlyRate,
		&p.Rating,
		&p.CompletedJobs,
		&p.Available,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}
