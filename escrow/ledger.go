// Package escrow holds, releases and refunds job funds. Each job has at most
// one escrow transaction; release and refund are terminal, mutually exclusive
// and single-use. Every state change appends an immutable escrow event, and
// the aggregate row must always be re-derivable from those events.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"trustflow/fault"
)

var (
	// ErrAlreadyFunded signals a second escrow for the same job.
	ErrAlreadyFunded = fault.New(fault.Conflict, "escrow: job already funded")
	// ErrNotFunded signals the job has no escrow transaction.
	ErrNotFunded = fault.New(fault.NotFound, "escrow: job not funded")
	// ErrAlreadyReleased signals a release or refund after the escrow reached
	// a terminal state.
	ErrAlreadyReleased = fault.New(fault.Conflict, "escrow: already released or refunded")
)

// Ledger performs escrow mutations inside a caller-owned transaction, so the
// money movement commits or rolls back with the job transition driving it.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// FundParams fixes the escrowed amount and platform fee for a job.
type FundParams struct {
	JobID       string
	Amount      int64
	PlatformFee int64
	ActorID     string
}

// Fund creates the single escrow transaction for a job. A concurrent second
// attempt loses on the unique index and reports ErrAlreadyFunded.
func (l *Ledger) Fund(ctx context.Context, tx pgx.Tx, params FundParams) (Transaction, error) {
	if params.JobID == "" {
		return Transaction{}, fault.New(fault.Validation, "escrow: fund requires a job id")
	}
	if params.Amount <= 0 {
		return Transaction{}, fault.New(fault.Validation, "escrow: amount must be positive, got %d", params.Amount)
	}
	if params.PlatformFee < 0 {
		return Transaction{}, fault.New(fault.Validation, "escrow: negative platform fee")
	}

	const insertSQL = `
		INSERT INTO escrow_transactions (job_id, amount, platform_fee, status)
		VALUES ($1, $2, $3, 'escrowed')
		RETURNING id, job_id, amount, platform_fee, status, released_at, created_at, updated_at
	`
	escrow, err := scanTransaction(tx.QueryRow(ctx, insertSQL, params.JobID, params.Amount, params.PlatformFee))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Transaction{}, ErrAlreadyFunded
		}
		return Transaction{}, fmt.Errorf("escrow: insert transaction: %w", err)
	}

	if err := l.appendEvent(ctx, tx, escrow, EventFunded, escrow.Amount, params.ActorID); err != nil {
		return Transaction{}, err
	}
	return escrow, nil
}

// Release pays out the full remaining escrow to the worker. Terminal and
// single-use; a prior release or refund reports ErrAlreadyReleased.
func (l *Ledger) Release(ctx context.Context, tx pgx.Tx, jobID, actorID string) (Transaction, error) {
	escrow, err := l.getForUpdate(ctx, tx, jobID)
	if err != nil {
		return Transaction{}, err
	}
	if escrow.ReleasedAt != nil || escrow.Status.Terminal() {
		return Transaction{}, ErrAlreadyReleased
	}

	released, err := releasedSoFar(ctx, tx, escrow.ID)
	if err != nil {
		return Transaction{}, err
	}
	remainder := escrow.Amount - released

	updated, err := l.close(ctx, tx, escrow.ID, StatusCompleted)
	if err != nil {
		return Transaction{}, err
	}
	if err := l.appendEvent(ctx, tx, updated, EventReleased, remainder, actorID); err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

// Refund returns the full escrow to the employer. Terminal and single-use.
func (l *Ledger) Refund(ctx context.Context, tx pgx.Tx, jobID, actorID string) (Transaction, error) {
	escrow, err := l.getForUpdate(ctx, tx, jobID)
	if err != nil {
		return Transaction{}, err
	}
	if escrow.ReleasedAt != nil || escrow.Status.Terminal() {
		return Transaction{}, ErrAlreadyReleased
	}
	if escrow.Status != StatusEscrowed {
		return Transaction{}, fault.Transition("escrow", string(escrow.Status), string(StatusRefunded))
	}

	updated, err := l.close(ctx, tx, escrow.ID, StatusRefunded)
	if err != nil {
		return Transaction{}, err
	}
	if err := l.appendEvent(ctx, tx, updated, EventRefunded, escrow.Amount, actorID); err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

// PartialRelease pays out percentage% of the escrow and leaves the remainder
// held. Allowed exactly once, from the escrowed state; the closing Release
// pays the rest.
func (l *Ledger) PartialRelease(ctx context.Context, tx pgx.Tx, jobID string, percentage int, actorID string) (Transaction, int64, error) {
	if percentage < 0 || percentage > 100 {
		return Transaction{}, 0, fault.New(fault.Validation, "escrow: percentage %d out of range [0,100]", percentage)
	}

	escrow, err := l.getForUpdate(ctx, tx, jobID)
	if err != nil {
		return Transaction{}, 0, err
	}
	if escrow.ReleasedAt != nil || escrow.Status.Terminal() {
		return Transaction{}, 0, ErrAlreadyReleased
	}
	if escrow.Status != StatusEscrowed {
		return Transaction{}, 0, fault.Transition("escrow", string(escrow.Status), string(StatusPartiallyPaid))
	}

	released := escrow.Amount * int64(percentage) / 100

	const updateSQL = `
		UPDATE escrow_transactions
		SET status = 'partially_paid', updated_at = now()
		WHERE id = $1
		RETURNING id, job_id, amount, platform_fee, status, released_at, created_at, updated_at
	`
	updated, err := scanTransaction(tx.QueryRow(ctx, updateSQL, escrow.ID))
	if err != nil {
		return Transaction{}, 0, fmt.Errorf("escrow: partial release: %w", err)
	}
	if err := l.appendEvent(ctx, tx, updated, EventPartialRelease, released, actorID); err != nil {
		return Transaction{}, 0, err
	}
	return updated, released, nil
}

// Split divides the escrow per an arbitration percentage: the worker share is
// released, the remainder refunded to the employer. Terminal.
func (l *Ledger) Split(ctx context.Context, tx pgx.Tx, jobID string, workerPercentage int, actorID string) (Transaction, error) {
	if workerPercentage < 0 || workerPercentage > 100 {
		return Transaction{}, fault.New(fault.Validation, "escrow: percentage %d out of range [0,100]", workerPercentage)
	}

	escrow, err := l.getForUpdate(ctx, tx, jobID)
	if err != nil {
		return Transaction{}, err
	}
	if escrow.ReleasedAt != nil || escrow.Status.Terminal() {
		return Transaction{}, ErrAlreadyReleased
	}
	if escrow.Status != StatusEscrowed {
		return Transaction{}, fault.Transition("escrow", string(escrow.Status), string(StatusPartiallyPaid))
	}

	workerShare := escrow.Amount * int64(workerPercentage) / 100
	employerShare := escrow.Amount - workerShare

	updated, err := l.close(ctx, tx, escrow.ID, StatusPartiallyPaid)
	if err != nil {
		return Transaction{}, err
	}
	if err := l.appendEvent(ctx, tx, updated, EventPartialRelease, workerShare, actorID); err != nil {
		return Transaction{}, err
	}
	if err := l.appendEvent(ctx, tx, updated, EventRefunded, employerShare, actorID); err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

// Get loads the escrow transaction for a job without locking it.
func (l *Ledger) Get(ctx context.Context, tx pgx.Tx, jobID string) (Transaction, error) {
	const selectSQL = `
		SELECT id, job_id, amount, platform_fee, status, released_at, created_at, updated_at
		FROM escrow_transactions
		WHERE job_id = $1
	`
	escrow, err := scanTransaction(tx.QueryRow(ctx, selectSQL, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFunded
		}
		return Transaction{}, fmt.Errorf("escrow: get: %w", err)
	}
	return escrow, nil
}

func (l *Ledger) getForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (Transaction, error) {
	const selectSQL = `
		SELECT id, job_id, amount, platform_fee, status, released_at, created_at, updated_at
		FROM escrow_transactions
		WHERE job_id = $1
		FOR UPDATE
	`
	escrow, err := scanTransaction(tx.QueryRow(ctx, selectSQL, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFunded
		}
		return Transaction{}, fmt.Errorf("escrow: get for update: %w", err)
	}
	return escrow, nil
}

func (l *Ledger) close(ctx context.Context, tx pgx.Tx, escrowID string, status Status) (Transaction, error) {
	const updateSQL = `
		UPDATE escrow_transactions
		SET status = $2, released_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING id, job_id, amount, platform_fee, status, released_at, created_at, updated_at
	`
	updated, err := scanTransaction(tx.QueryRow(ctx, updateSQL, escrowID, status))
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: close %s: %w", status, err)
	}
	return updated, nil
}

func (l *Ledger) appendEvent(ctx context.Context, tx pgx.Tx, escrow Transaction, kind EventKind, amount int64, actorID string) error {
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const insertSQL = `
		INSERT INTO escrow_events (escrow_id, job_id, kind, amount, actor_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insertSQL, escrow.ID, escrow.JobID, kind, amount, actor); err != nil {
		return fmt.Errorf("escrow: append %s event: %w", kind, err)
	}
	return nil
}

func releasedSoFar(ctx context.Context, tx pgx.Tx, escrowID string) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM escrow_events WHERE escrow_id = $1 AND kind = 'partial_release'`,
		escrowID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("escrow: sum partial releases: %w", err)
	}
	return total, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var escrow Transaction
	return escrow, row.Scan(
		&escrow.ID,
		&escrow.JobID,
		&escrow.Amount,
		&escrow.PlatformFee,
		&escrow.Status,
		&escrow.ReleasedAt,
		&escrow.CreatedAt,
		&escrow.UpdatedAt,
	)
}
