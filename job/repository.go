package job

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
	// ErrNotFound is returned when no job row exists for the identifier.
	ErrNotFound = fault.New(fault.NotFound, "job: not found")
	// ErrApplicationNotFound is returned when the (job, worker) bid is absent.
	ErrApplicationNotFound = fault.New(fault.NotFound, "job: application not found")
	// ErrContractNotFound is returned when the job has no contract yet.
	ErrContractNotFound = fault.New(fault.NotFound, "job: contract not found")
	// ErrDuplicateApplication signals a second bid by the same worker.
	ErrDuplicateApplication = fault.New(fault.Conflict, "job: worker already applied")
	// ErrContractExists signals a second contract for the same job.
	ErrContractExists = fault.New(fault.Conflict, "job: contract already exists")
	// ErrDuplicateReview signals a second review by the same reviewer.
	ErrDuplicateReview = fault.New(fault.Conflict, "job: reviewer already reviewed this job")
)

// Repository defines the data access the lifecycle manager needs. Every
// method runs inside the caller's transaction.
type Repository interface {
	CreateJob(ctx context.Context, tx pgx.Tx, j Job) (Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, payment PaymentStatus) (Job, error)
	AssignWorker(ctx context.Context, tx pgx.Tx, jobID, workerID string) (Job, error)
	CreateApplication(ctx context.Context, tx pgx.Tx, a Application) (Application, error)
	GetApplication(ctx context.Context, tx pgx.Tx, jobID, workerID string) (Application, error)
	AcceptApplication(ctx context.Context, tx pgx.Tx, jobID, workerID string) error
	CreateContract(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error)
	GetContractForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (Contract, error)
	SetSignature(ctx context.Context, tx pgx.Tx, contractID string, party Party) (Contract, error)
	InsertProgress(ctx context.Context, tx pgx.Tx, p Progress) (Progress, error)
	InsertReview(ctx context.Context, tx pgx.Tx, r Review) (Review, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const jobColumns = `id, employer_id, assigned_worker_id, title, description, category, status, payment_status,
	budget, escrow_amount, platform_fee, partial_payment_percentage, deadline, created_at, updated_at`

func (r *PGRepository) CreateJob(ctx context.Context, tx pgx.Tx, j Job) (Job, error) {
	query := `
		INSERT INTO jobs (id, employer_id, title, description, category, status, payment_status,
			budget, escrow_amount, platform_fee, partial_payment_percentage, deadline)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + jobColumns

	row := tx.QueryRow(ctx, query,
		j.ID,
		j.EmployerID,
		j.Title,
		j.Description,
		j.Category,
		j.Status,
		j.PaymentStatus,
		j.Budget,
		j.EscrowAmount,
		j.PlatformFee,
		j.PartialPaymentPercentage,
		j.Deadline,
	)

	created, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`

	j, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get for update: %w", err)
	}
	return j, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, payment PaymentStatus) (Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, payment_status = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, query, id, status, payment))
	if err != nil {
		return Job{}, fmt.Errorf("job: update status: %w", err)
	}
	return j, nil
}

func (r *PGRepository) AssignWorker(ctx context.Context, tx pgx.Tx, jobID, workerID string) (Job, error) {
	query := `
		UPDATE jobs
		SET assigned_worker_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, query, jobID, workerID))
	if err != nil {
		return Job{}, fmt.Errorf("job: assign worker: %w", err)
	}
	return j, nil
}

func (r *PGRepository) CreateApplication(ctx context.Context, tx pgx.Tx, a Application) (Application, error) {
	const query = `
		INSERT INTO job_applications (id, job_id, worker_id, proposed_rate, cover_letter, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING id, job_id, worker_id, proposed_rate, cover_letter, status, created_at, updated_at
	`

	row := tx.QueryRow(ctx, query, a.ID, a.JobID, a.WorkerID, a.ProposedRate, a.CoverLetter, a.Status)
	created, err := scanApplication(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Application{}, ErrDuplicateApplication
		}
		return Application{}, fmt.Errorf("job: create application: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetApplication(ctx context.Context, tx pgx.Tx, jobID, workerID string) (Application, error) {
	const query = `
		SELECT id, job_id, worker_id, proposed_rate, cover_letter, status, created_at, updated_at
		FROM job_applications
		WHERE job_id = $1 AND worker_id = $2
		FOR UPDATE
	`

	a, err := scanApplication(tx.QueryRow(ctx, query, jobID, workerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrApplicationNotFound
		}
		return Application{}, fmt.Errorf("job: get application: %w", err)
	}
	return a, nil
}

// AcceptApplication marks the winning bid accepted and every other live bid
// rejected, in one statement each.
func (r *PGRepository) AcceptApplication(ctx context.Context, tx pgx.Tx, jobID, workerID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE job_applications
		SET status = 'accepted', updated_at = now()
		WHERE job_id = $1 AND worker_id = $2
	`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("job: accept application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrApplicationNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE job_applications
		SET status = 'rejected', updated_at = now()
		WHERE job_id = $1 AND worker_id <> $2 AND status IN ('applied', 'shortlisted')
	`, jobID, workerID); err != nil {
		return fmt.Errorf("job: reject other applications: %w", err)
	}
	return nil
}

func (r *PGRepository) CreateContract(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	const query = `
		INSERT INTO job_contracts (id, job_id, employer_id, worker_id, agreed_rate, terms, signed_by_employer, signed_by_worker)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, job_id, employer_id, worker_id, agreed_rate, terms, signed_by_employer, signed_by_worker, created_at, updated_at
	`

	row := tx.QueryRow(ctx, query, c.ID, c.JobID, c.EmployerID, c.WorkerID, c.AgreedRate, c.Terms, c.SignedByEmployer, c.SignedByWorker)
	created, err := scanContract(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Contract{}, ErrContractExists
		}
		return Contract{}, fmt.Errorf("job: create contract: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetContractForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (Contract, error) {
	const query = `
		SELECT id, job_id, employer_id, worker_id, agreed_rate, terms, signed_by_employer, signed_by_worker, created_at, updated_at
		FROM job_contracts
		WHERE job_id = $1
		FOR UPDATE
	`

	c, err := scanContract(tx.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrContractNotFound
		}
		return Contract{}, fmt.Errorf("job: get contract for update: %w", err)
	}
	return c, nil
}

func (r *PGRepository) SetSignature(ctx context.Context, tx pgx.Tx, contractID string, party Party) (Contract, error) {
	column := "signed_by_employer"
	if party == PartyWorker {
		column = "signed_by_worker"
	}

	query := fmt.Sprintf(`
		UPDATE job_contracts
		SET %s = TRUE, updated_at = now()
		WHERE id = $1
		RETURNING id, job_id, employer_id, worker_id, agreed_rate, terms, signed_by_employer, signed_by_worker, created_at, updated_at
	`, column)

	c, err := scanContract(tx.QueryRow(ctx, query, contractID))
	if err != nil {
		return Contract{}, fmt.Errorf("job: set %s signature: %w", party, err)
	}
	return c, nil
}

func (r *PGRepository) InsertProgress(ctx context.Context, tx pgx.Tx, p Progress) (Progress, error) {
	const query = `
		INSERT INTO job_progress (id, job_id, worker_id, percentage, description, evidence)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING id, job_id, worker_id, percentage, description, evidence, created_at
	`

	row := tx.QueryRow(ctx, query, p.ID, p.JobID, p.WorkerID, p.Percentage, p.Description, p.Evidence)

	var created Progress
	err := row.Scan(
		&created.ID,
		&created.JobID,
		&created.WorkerID,
		&created.Percentage,
		&created.Description,
		&created.Evidence,
		&created.CreatedAt,
	)
	if err != nil {
		return Progress{}, fmt.Errorf("job: insert progress: %w", err)
	}
	return created, nil
}

func (r *PGRepository) InsertReview(ctx context.Context, tx pgx.Tx, rev Review) (Review, error) {
	const query = `
		INSERT INTO job_reviews (id, job_id, reviewer_id, reviewee_id, rating, comment)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING id, job_id, reviewer_id, reviewee_id, rating, comment, created_at
	`

	row := tx.QueryRow(ctx, query, rev.ID, rev.JobID, rev.ReviewerID, rev.RevieweeID, rev.Rating, rev.Comment)

	var created Review
	err := row.Scan(
		&created.ID,
		&created.JobID,
		&created.ReviewerID,
		&created.RevieweeID,
		&created.Rating,
		&created.Comment,
		&created.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Review{}, ErrDuplicateReview
		}
		return Review{}, fmt.Errorf("job: insert review: %w", err)
	}
	return created, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	return j, row.Scan(
		&j.ID,
		&j.EmployerID,
		&j.AssignedWorkerID,
		&j.Title,
		&j.Description,
		&j.Category,
		&j.Status,
		&j.PaymentStatus,
		&j.Budget,
		&j.EscrowAmount,
		&j.PlatformFee,
		&j.PartialPaymentPercentage,
		&j.Deadline,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
}

func scanApplication(row pgx.Row) (Application, error) {
	var a Application
	return a, row.Scan(
		&a.ID,
		&a.JobID,
		&a.WorkerID,
		&a.ProposedRate,
		&a.CoverLetter,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
}

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	return c, row.Scan(
		&c.ID,
		&c.JobID,
		&c.EmployerID,
		&c.WorkerID,
		&c.AgreedRate,
		&c.Terms,
		&c.SignedByEmployer,
		&c.SignedByWorker,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}
