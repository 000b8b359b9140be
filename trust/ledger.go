// Package trust owns every mutation of a user's trust score and the derived
// worker rating aggregates. Scores change only by appending a point
// transaction and applying its delta inside the caller's transaction.
package trust

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trustflow/fault"
)

// Ledger appends trust-point transactions and keeps user aggregates in step.
// All methods run inside a transaction owned by the calling workflow so the
// award lands or rolls back with the transition that earned it.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// AwardParams describes the completion awards for both parties of a job.
type AwardParams struct {
	JobID          string
	WorkerUserID   string
	EmployerUserID string
	Rating         int
	OnTime         bool
}

// AwardCompletion writes one point transaction per party and adds the deltas
// to users.trust_score.
func (l *Ledger) AwardCompletion(ctx context.Context, tx pgx.Tx, params AwardParams) error {
	if params.JobID == "" || params.WorkerUserID == "" || params.EmployerUserID == "" {
		return fault.New(fault.Validation, "trust: award requires job, worker and employer ids")
	}
	if params.Rating < 1 || params.Rating > 5 {
		return fault.New(fault.Validation, "trust: rating %d out of range [1,5]", params.Rating)
	}

	workerPoints := WorkerCompletionPoints(params.Rating, params.OnTime)
	if err := l.apply(ctx, tx, params.WorkerUserID, workerPoints, TypeJobCompletion, &params.JobID, "job completed"); err != nil {
		return err
	}

	employerPoints := EmployerCompletionPoints(params.OnTime)
	return l.apply(ctx, tx, params.EmployerUserID, employerPoints, TypeEmployerCompletion, &params.JobID, "job completed")
}

// Penalize appends a negative ledger row, typically after a lost dispute.
// No floor is applied; a score may go negative.
func (l *Ledger) Penalize(ctx context.Context, tx pgx.Tx, userID string, points int, reason string, jobID *string) error {
	if userID == "" {
		return fault.New(fault.Validation, "trust: penalize requires a user id")
	}
	if points >= 0 {
		return fault.New(fault.Validation, "trust: penalty points must be negative, got %d", points)
	}
	return l.apply(ctx, tx, userID, points, TypeDisputePenalty, jobID, reason)
}

func (l *Ledger) apply(ctx context.Context, tx pgx.Tx, userID string, points int, txType TransactionType, jobID *string, reason string) error {
	const insertSQL = `
		INSERT INTO trust_point_transactions (user_id, points, transaction_type, job_id, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insertSQL, userID, points, txType, jobID, reason); err != nil {
		return fmt.Errorf("trust: insert point transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE users SET trust_score = trust_score + $2, updated_at = now() WHERE id = $1`, userID, points)
	if err != nil {
		return fmt.Errorf("trust: apply score delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "trust: user %s not found", userID)
	}
	return nil
}

// Recompute re-derives a worker's rating and completed-job count from the
// review and job ledgers. Running it twice without new reviews is a no-op,
// and so is running it for a worker who never opened a marketplace profile.
func (l *Ledger) Recompute(ctx context.Context, tx pgx.Tx, workerUserID string) error {
	if workerUserID == "" {
		return fault.New(fault.Validation, "trust: recompute requires a worker user id")
	}

	const recomputeSQL = `
		UPDATE worker_profiles
		SET rating = COALESCE((
		        SELECT AVG(rating)::real FROM job_reviews WHERE reviewee_id = $1
		    ), 0),
		    completed_jobs = (
		        SELECT COUNT(*) FROM jobs
		        WHERE assigned_worker_id = $1 AND status = 'completed'
		    ),
		    updated_at = now()
		WHERE user_id = $1
	`
	if _, err := tx.Exec(ctx, recomputeSQL, workerUserID); err != nil {
		return fmt.Errorf("trust: recompute worker aggregates: %w", err)
	}
	return nil
}
