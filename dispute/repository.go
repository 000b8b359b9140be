package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustflow/fault"
)

var (
	// ErrNotFound is returned when no dispute row exists for the identifier.
	ErrNotFound = fault.New(fault.NotFound, "dispute: not found")
	// ErrTaskNotFound is returned when the dispute has no verification task.
	ErrTaskNotFound = fault.New(fault.NotFound, "dispute: verification task not found")
	// ErrAlreadyAssigned signals a second verification task for the dispute.
	ErrAlreadyAssigned = fault.New(fault.Conflict, "dispute: verifier already assigned")
)

// Repository defines the data access the engine needs.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Dispute, error)
	SetResolution(ctx context.Context, tx pgx.Tx, id string, resolution string) (Dispute, error)
	CreateTask(ctx context.Context, tx pgx.Tx, t VerificationTask) (VerificationTask, error)
	GetTaskForUpdate(ctx context.Context, tx pgx.Tx, disputeID string) (VerificationTask, error)
	ReassignTask(ctx context.Context, tx pgx.Tx, taskID, verifierID string) (VerificationTask, error)
	SetTaskDecision(ctx context.Context, tx pgx.Tx, taskID string, decision Decision, notes string) (VerificationTask, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `id, job_id, raised_by, against, reason, description, evidence, status, resolution, resolved_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	query := `
		INSERT INTO disputes (id, job_id, raised_by, against, reason, description, evidence, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + disputeColumns

	row := tx.QueryRow(ctx, query, d.ID, d.JobID, d.RaisedBy, d.Against, d.Reason, d.Description, d.Evidence, d.Status)
	created, err := scanDispute(row)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`

	d, err := scanDispute(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return d, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Dispute, error) {
	query := `
		UPDATE disputes
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + disputeColumns

	d, err := scanDispute(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: update status: %w", err)
	}
	return d, nil
}

// SetResolution closes the dispute, stamping resolution text and resolved_at.
func (r *PGRepository) SetResolution(ctx context.Context, tx pgx.Tx, id string, resolution string) (Dispute, error) {
	query := `
		UPDATE disputes
		SET status = 'resolved', resolution = $2, resolved_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING ` + disputeColumns

	d, err := scanDispute(tx.QueryRow(ctx, query, id, resolution))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: set resolution: %w", err)
	}
	return d, nil
}

func (r *PGRepository) CreateTask(ctx context.Context, tx pgx.Tx, t VerificationTask) (VerificationTask, error) {
	const query = `
		INSERT INTO dispute_verification_tasks (id, dispute_id, verifier_id, notes)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4)
		RETURNING id, dispute_id, verifier_id, decision, notes, created_at, updated_at
	`

	row := tx.QueryRow(ctx, query, t.ID, t.DisputeID, t.VerifierID, t.Notes)
	created, err := scanTask(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return VerificationTask{}, ErrAlreadyAssigned
		}
		return VerificationTask{}, fmt.Errorf("dispute: create task: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetTaskForUpdate(ctx context.Context, tx pgx.Tx, disputeID string) (VerificationTask, error) {
	const query = `
		SELECT id, dispute_id, verifier_id, decision, notes, created_at, updated_at
		FROM dispute_verification_tasks
		WHERE dispute_id = $1
		FOR UPDATE
	`

	t, err := scanTask(tx.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VerificationTask{}, ErrTaskNotFound
		}
		return VerificationTask{}, fmt.Errorf("dispute: get task for update: %w", err)
	}
	return t, nil
}

// ReassignTask swaps the verifier on an escalated dispute's existing task.
func (r *PGRepository) ReassignTask(ctx context.Context, tx pgx.Tx, taskID, verifierID string) (VerificationTask, error) {
	const query = `
		UPDATE dispute_verification_tasks
		SET verifier_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, dispute_id, verifier_id, decision, notes, created_at, updated_at
	`

	t, err := scanTask(tx.QueryRow(ctx, query, taskID, verifierID))
	if err != nil {
		return VerificationTask{}, fmt.Errorf("dispute: reassign task: %w", err)
	}
	return t, nil
}

func (r *PGRepository) SetTaskDecision(ctx context.Context, tx pgx.Tx, taskID string, decision Decision, notes string) (VerificationTask, error) {
	const query = `
		UPDATE dispute_verification_tasks
		SET decision = $2, notes = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, dispute_id, verifier_id, decision, notes, created_at, updated_at
	`

	t, err := scanTask(tx.QueryRow(ctx, query, taskID, decision, notes))
	if err != nil {
		return VerificationTask{}, fmt.Errorf("dispute: set task decision: %w", err)
	}
	return t, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	return d, row.Scan(
		&d.ID,
		&d.JobID,
		&d.RaisedBy,
		&d.Against,
		&d.Reason,
		&d.Description,
		&d.Evidence,
		&d.Status,
		&d.Resolution,
		&d.ResolvedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
}

func scanTask(row pgx.Row) (VerificationTask, error) {
	var t VerificationTask
	return t, row.Scan(
		&t.ID,
		&t.DisputeID,
		&t.VerifierID,
		&t.Decision,
		&t.Notes,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
}
