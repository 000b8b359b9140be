package property

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustflow/fault"
)

var (
	// ErrNotFound is returned when no property row exists for the identifier.
	ErrNotFound = fault.New(fault.NotFound, "property: not found")
	// ErrDuplicateListing signals a content-fingerprint collision.
	ErrDuplicateListing = fault.New(fault.Conflict, "property: duplicate listing content")
	// ErrDuplicateLocation signals a coordinates collision with an existing listing.
	ErrDuplicateLocation = fault.New(fault.Conflict, "property: duplicate listing location")
)

// Repository defines the data access the pipeline needs.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, p Property) (Property, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Property, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, setListedAt, clearListedAt bool) (Property, error)
	InsertVerification(ctx context.Context, tx pgx.Tx, v Verification) (Verification, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const propertyColumns = `id, landlord_id, agent_id, lawyer_id, title, address, city, state, lga, country,
	property_type, listing_type, bedrooms, size_sqm, latitude, longitude, price, bidding_price,
	property_hash, coordinates_hash, status, listed_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Property) (Property, error) {
	query := `
		INSERT INTO properties (id, landlord_id, agent_id, lawyer_id, title, address, city, state, lga, country,
			property_type, listing_type, bedrooms, size_sqm, latitude, longitude, price, bidding_price,
			property_hash, coordinates_hash, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING ` + propertyColumns

	row := tx.QueryRow(ctx, query,
		p.ID,
		p.LandlordID,
		p.AgentID,
		p.LawyerID,
		p.Title,
		p.Address,
		p.City,
		p.State,
		p.LGA,
		p.Country,
		p.PropertyType,
		p.ListingType,
		p.Bedrooms,
		p.SizeSqm,
		p.Latitude,
		p.Longitude,
		p.Price,
		p.BiddingPrice,
		p.PropertyHash,
		p.CoordinatesHash,
		p.Status,
	)

	created, err := scanProperty(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "coordinates") {
				return Property{}, ErrDuplicateLocation
			}
			return Property{}, ErrDuplicateListing
		}
		return Property{}, fmt.Errorf("property: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = $1 FOR UPDATE`

	p, err := scanProperty(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrNotFound
		}
		return Property{}, fmt.Errorf("property: get for update: %w", err)
	}
	return p, nil
}

// UpdateStatus writes the new status and adjusts listed_at: set on entering
// active (if unset), cleared on leaving it.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, setListedAt, clearListedAt bool) (Property, error) {
	listedAtExpr := "listed_at"
	switch {
	case setListedAt:
		listedAtExpr = "COALESCE(listed_at, now())"
	case clearListedAt:
		listedAtExpr = "NULL"
	}

	query := fmt.Sprintf(`
		UPDATE properties
		SET status = $2, listed_at = %s, updated_at = now()
		WHERE id = $1
		RETURNING `+propertyColumns, listedAtExpr)

	p, err := scanProperty(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		return Property{}, fmt.Errorf("property: update status: %w", err)
	}
	return p, nil
}

func (r *PGRepository) InsertVerification(ctx context.Context, tx pgx.Tx, v Verification) (Verification, error) {
	const query = `
		INSERT INTO property_verifications (id, property_id, verifier_id, verifier_type, verdict, notes, photos)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
		RETURNING id, property_id, verifier_id, verifier_type, verdict, notes, photos, created_at
	`

	row := tx.QueryRow(ctx, query, v.ID, v.PropertyID, v.VerifierID, v.VerifierType, v.Verdict, v.Notes, v.Photos)

	var created Verification
	err := row.Scan(
		&created.ID,
		&created.PropertyID,
		&created.VerifierID,
		&created.VerifierType,
		&created.Verdict,
		&created.Notes,
		&created.Photos,
		&created.CreatedAt,
	)
	if err != nil {
		return Verification{}, fmt.Errorf("property: insert verification: %w", err)
	}
	return created, nil
}

func scanProperty(row pgx.Row) (Property, error) {
	var p Property
	return p, row.Scan(
		&p.ID,
		&p.LandlordID,
		&p.AgentID,
		&p.LawyerID,
		&p.Title,
		&p.Address,
		&p.City,
		&p.State,
		&p.LGA,
		&p.Country,
		&p.PropertyType,
		&p.ListingType,
		&p.Bedrooms,
		&p.SizeSqm,
		&p.Latitude,
		&p.Longitude,
		&p.Price,
		&p.BiddingPrice,
		&p.PropertyHash,
		&p.CoordinatesHash,
		&p.Status,
		&p.ListedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}
