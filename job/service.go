package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trustflow/audit"
	"trustflow/auth"
	"trustflow/escrow"
	"trustflow/fault"
	"trustflow/notify"
	"trustflow/trust"
)

var (
	// ErrAlreadySigned signals a repeat signature by the same party.
	ErrAlreadySigned = fault.New(fault.Conflict, "job: party already signed the contract")
	// ErrContractNotSigned signals funding before both signatures are present.
	ErrContractNotSigned = fault.New(fault.InvalidTransition, "job: contract not fully signed")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EscrowLedger is the slice of the escrow package the lifecycle drives.
type EscrowLedger interface {
	Fund(ctx context.Context, tx pgx.Tx, params escrow.FundParams) (escrow.Transaction, error)
	Release(ctx context.Context, tx pgx.Tx, jobID, actorID string) (escrow.Transaction, error)
	Refund(ctx context.Context, tx pgx.Tx, jobID, actorID string) (escrow.Transaction, error)
	PartialRelease(ctx context.Context, tx pgx.Tx, jobID string, percentage int, actorID string) (escrow.Transaction, int64, error)
}

// TrustLedger is the slice of the trust package the lifecycle drives.
type TrustLedger interface {
	AwardCompletion(ctx context.Context, tx pgx.Tx, params trust.AwardParams) error
	Recompute(ctx context.Context, tx pgx.Tx, workerUserID string) error
}

// Service runs the job lifecycle from posting to completion or cancellation.
// Every multi-entity mutation happens inside one transaction.
type Service struct {
	pool        TxBeginner
	repo        Repository
	escrow      EscrowLedger
	trust       TrustLedger
	notifier    notify.Notifier
	auditor     audit.Recorder
	log         *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, escrowLedger EscrowLedger, trustLedger TrustLedger, notifier notify.Notifier, auditor audit.Recorder) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if auditor == nil {
		auditor = audit.Noop{}
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		escrow:      escrowLedger,
		trust:       trustLedger,
		notifier:    notifier,
		auditor:     auditor,
		log:         slog.Default(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(log *slog.Logger) *Service {
	s.log = log
	return s
}

// PostParams carries a new job posting.
type PostParams struct {
	Employer                 auth.Identity
	Title                    string
	Description              string
	Category                 string
	Budget                   int64
	PartialPaymentPercentage *int
	Deadline                 *time.Time
}

// Post creates an open job. The platform fee is fixed here and never
// recomputed, even by later escrow operations.
func (s *Service) Post(ctx context.Context, params PostParams) (Job, error) {
	switch params.Employer.Role {
	case auth.RoleEmployer, auth.RoleAdmin:
	default:
		return Job{}, fault.New(fault.Unauthorized, "job: role %s cannot post jobs", params.Employer.Role)
	}
	if params.Title == "" {
		return Job{}, fault.New(fault.Validation, "job: title is required")
	}
	if params.Budget <= 0 {
		return Job{}, fault.New(fault.Validation, "job: budget must be positive, got %d", params.Budget)
	}
	if params.PartialPaymentPercentage != nil {
		pct := *params.PartialPaymentPercentage
		if pct < 10 || pct > 90 {
			return Job{}, fault.New(fault.Validation, "job: partial payment percentage %d out of range [10,90]", pct)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.CreateJob(ctx, tx, Job{
		ID:                       s.idGenerator(),
		EmployerID:               params.Employer.UserID,
		Title:                    params.Title,
		Description:              params.Description,
		Category:                 params.Category,
		Status:                   StatusOpen,
		PaymentStatus:            PaymentPending,
		Budget:                   params.Budget,
		EscrowAmount:             params.Budget,
		PlatformFee:              PlatformFee(params.Budget),
		PartialPaymentPercentage: params.PartialPaymentPercentage,
		Deadline:                 params.Deadline,
	})
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit post: %w", err)
	}

	s.afterTransition(ctx, params.Employer.UserID, "job.posted", created, nil)
	return created, nil
}

// ApplyParams carries a worker's bid.
type ApplyParams struct {
	JobID        string
	Worker       auth.Identity
	ProposedRate int64
	CoverLetter  string
}

// Apply records a bid while the job is still open. The (job, worker) unique
// index turns a concurrent duplicate into ErrDuplicateApplication.
func (s *Service) Apply(ctx context.Context, params ApplyParams) (Application, error) {
	if params.Worker.Role != auth.RoleWorker {
		return Application{}, fault.New(fault.Unauthorized, "job: role %s cannot apply", params.Worker.Role)
	}
	if params.ProposedRate <= 0 {
		return Application{}, fault.New(fault.Validation, "job: proposed rate must be positive, got %d", params.ProposedRate)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Application{}, err
	}
	if j.Status != StatusOpen {
		return Application{}, fault.New(fault.InvalidTransition, "job: cannot apply while job is %s", j.Status)
	}
	if j.EmployerID == params.Worker.UserID {
		return Application{}, fault.New(fault.Validation, "job: employer cannot apply to own job")
	}

	created, err := s.repo.CreateApplication(ctx, tx, Application{
		ID:           s.idGenerator(),
		JobID:        j.ID,
		WorkerID:     params.Worker.UserID,
		ProposedRate: params.ProposedRate,
		CoverLetter:  params.CoverLetter,
		Status:       ApplicationApplied,
	})
	if err != nil {
		return Application{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, fmt.Errorf("job: commit apply: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		Actor:    params.Worker.UserID,
		Action:   "job.apply",
		Entity:   "job",
		EntityID: j.ID,
	})
	return created, nil
}

// AcceptParams picks the winning bid.
type AcceptParams struct {
	JobID    string
	WorkerID string
	Actor    auth.Identity
}

// AcceptApplication assigns the worker, rejects the remaining bids and drafts
// the unsigned contract at the proposed rate. Job status is unchanged.
func (s *Service) AcceptApplication(ctx context.Context, params AcceptParams) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if err := requireEmployer(j, params.Actor); err != nil {
		return Job{}, err
	}
	if j.Status != StatusOpen {
		return Job{}, fault.New(fault.InvalidTransition, "job: cannot accept applications while job is %s", j.Status)
	}

	app, err := s.repo.GetApplication(ctx, tx, j.ID, params.WorkerID)
	if err != nil {
		return Job{}, err
	}

	if err := s.repo.AcceptApplication(ctx, tx, j.ID, params.WorkerID); err != nil {
		return Job{}, err
	}

	updated, err := s.repo.AssignWorker(ctx, tx, j.ID, params.WorkerID)
	if err != nil {
		return Job{}, err
	}

	if _, err := s.repo.CreateContract(ctx, tx, Contract{
		ID:         s.idGenerator(),
		JobID:      j.ID,
		EmployerID: j.EmployerID,
		WorkerID:   params.WorkerID,
		AgreedRate: app.ProposedRate,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit accept: %w", err)
	}

	s.afterTransition(ctx, params.Actor.UserID, "job.application_accepted", updated, map[string]any{
		"worker_id": params.WorkerID,
	})
	return updated, nil
}

// SignParams carries one party's signature.
type SignParams struct {
	JobID string
	Actor auth.Identity
}

// SignContract records the acting party's signature. Idempotency is per
// party: a repeat by the same party fails with ErrAlreadySigned.
func (s *Service) SignContract(ctx context.Context, params SignParams) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	contract, err := s.repo.GetContractForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Contract{}, err
	}

	var party Party
	switch params.Actor.UserID {
	case contract.EmployerID:
		party = PartyEmployer
		if contract.SignedByEmployer {
			return Contract{}, ErrAlreadySigned
		}
	case contract.WorkerID:
		party = PartyWorker
		if contract.SignedByWorker {
			return Contract{}, ErrAlreadySigned
		}
	default:
		return Contract{}, fault.New(fault.Unauthorized, "job: actor is not a contract party")
	}

	signed, err := s.repo.SetSignature(ctx, tx, contract.ID, party)
	if err != nil {
		return Contract{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("job: commit sign: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		Actor:    params.Actor.UserID,
		Action:   "job.contract_signed",
		Entity:   "job",
		EntityID: params.JobID,
		Detail:   map[string]any{"party": string(party)},
	})
	return signed, nil
}

// FundParams funds the escrow for a signed contract.
type FundParams struct {
	JobID string
	Actor auth.Identity
}

// FundEscrow creates the job's single escrow transaction and starts the work:
// payment pending -> escrowed, job open -> in_progress.
func (s *Service) FundEscrow(ctx context.Context, params FundParams) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if err := requireEmployer(j, params.Actor); err != nil {
		return Job{}, err
	}
	if j.Status != StatusOpen || j.PaymentStatus != PaymentPending {
		return Job{}, fault.Transition("job payment", string(j.PaymentStatus), string(PaymentEscrowed))
	}

	contract, err := s.repo.GetContractForUpdate(ctx, tx, j.ID)
	if err != nil {
		if errors.Is(err, ErrContractNotFound) {
			return Job{}, ErrContractNotSigned
		}
		return Job{}, err
	}
	if !contract.FullySigned() {
		return Job{}, ErrContractNotSigned
	}

	if _, err := s.escrow.Fund(ctx, tx, escrow.FundParams{
		JobID:       j.ID,
		Amount:      j.EscrowAmount,
		PlatformFee: j.PlatformFee,
		ActorID:     params.Actor.UserID,
	}); err != nil {
		return Job{}, err
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, j.ID, StatusInProgress, PaymentEscrowed)
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit fund: %w", err)
	}

	s.afterTransition(ctx, params.Actor.UserID, "job.escrow_funded", updated, map[string]any{
		"amount":       j.EscrowAmount,
		"platform_fee": j.PlatformFee,
	})
	return updated, nil
}

// ProgressParams carries one append-only progress report.
type ProgressParams struct {
	JobID       string
	Worker      auth.Identity
	Percentage  int
	Description string
	Evidence    []string
}

// SubmitProgress appends a progress entry. No job transition occurs.
func (s *Service) SubmitProgress(ctx context.Context, params ProgressParams) (Progress, error) {
	if params.Percentage < 0 || params.Percentage > 100 {
		return Progress{}, fault.New(fault.Validation, "job: percentage %d out of range [0,100]", params.Percentage)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Progress{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Progress{}, err
	}
	if err := requireAssignedWorker(j, params.Worker); err != nil {
		return Progress{}, err
	}
	if j.Status != StatusInProgress && j.Status != StatusUnderReview {
		return Progress{}, fault.New(fault.InvalidTransition, "job: cannot report progress while job is %s", j.Status)
	}

	created, err := s.repo.InsertProgress(ctx, tx, Progress{
		ID:          s.idGenerator(),
		JobID:       j.ID,
		WorkerID:    params.Worker.UserID,
		Percentage:  params.Percentage,
		Description: params.Description,
		Evidence:    params.Evidence,
	})
	if err != nil {
		return Progress{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Progress{}, fmt.Errorf("job: commit progress: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		Actor:    params.Worker.UserID,
		Action:   "job.progress",
		Entity:   "job",
		EntityID: j.ID,
		Detail:   map[string]any{"percentage": params.Percentage},
	})
	return created, nil
}

// RequestReviewParams asks the employer to review finished work.
type RequestReviewParams struct {
	JobID  string
	Worker auth.Identity
}

// RequestReview moves in_progress -> under_review. A repeat call while
// already under review is a no-op.
func (s *Service) RequestReview(ctx context.Context, params RequestReviewParams) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if err := requireAssignedWorker(j, params.Worker); err != nil {
		return Job{}, err
	}
	if j.Status == StatusUnderReview {
		return j, nil
	}
	if j.Status != StatusInProgress {
		return Job{}, fault.Transition("job", string(j.Status), string(StatusUnderReview))
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, j.ID, StatusUnderReview, j.PaymentStatus)
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit request review: %w", err)
	}

	s.afterTransition(ctx, params.Worker.UserID, "job.review_requested", updated, nil)
	return updated, nil
}

// CompleteParams closes a reviewed job.
type CompleteParams struct {
	JobID    string
	Employer auth.Identity
	Rating   int
	OnTime   bool
	Comment  string
}

// Complete releases the escrow, writes the employer's review, awards trust
// points to both parties and recomputes the worker's aggregates, all in one
// transaction. Any failure rolls the whole completion back.
func (s *Service) Complete(ctx context.Context, params CompleteParams) (Job, error) {
	if params.Rating < 1 || params.Rating > 5 {
		return Job{}, fault.New(fault.Validation, "job: rating %d out of range [1,5]", params.Rating)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if err := requireEmployer(j, params.Employer); err != nil {
		return Job{}, err
	}
	if j.Status != StatusUnderReview {
		return Job{}, fault.Transition("job", string(j.Status), string(StatusCompleted))
	}
	if j.AssignedWorkerID == nil {
		return Job{}, fault.New(fault.Internal, "job: under review without an assigned worker")
	}
	workerID := *j.AssignedWorkerID

	if j.PartialPaymentPercentage != nil {
		if _, _, err := s.escrow.PartialRelease(ctx, tx, j.ID, *j.PartialPaymentPercentage, params.Employer.UserID); err != nil {
			return Job{}, err
		}
	}
	if _, err := s.escrow.Release(ctx, tx, j.ID, params.Employer.UserID); err != nil {
		return Job{}, err
	}

	if _, err := s.repo.InsertReview(ctx, tx, Review{
		ID:         s.idGenerator(),
		JobID:      j.ID,
		ReviewerID: params.Employer.UserID,
		RevieweeID: workerID,
		Rating:     params.Rating,
		Comment:    params.Comment,
	}); err != nil {
		return Job{}, err
	}

	if err := s.trust.AwardCompletion(ctx, tx, trust.AwardParams{
		JobID:          j.ID,
		WorkerUserID:   workerID,
		EmployerUserID: j.EmployerID,
		Rating:         params.Rating,
		OnTime:         params.OnTime,
	}); err != nil {
		return Job{}, err
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, j.ID, StatusCompleted, PaymentCompleted)
	if err != nil {
		return Job{}, err
	}

	// Recompute after the status flip so the completed-jobs count sees it.
	if err := s.trust.Recompute(ctx, tx, workerID); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit complete: %w", err)
	}

	s.afterTransition(ctx, params.Employer.UserID, "job.completed", updated, map[string]any{
		"rating":  params.Rating,
		"on_time": params.OnTime,
	})
	return updated, nil
}

// CancelParams closes a job before completion.
type CancelParams struct {
	JobID string
	Actor auth.Identity
}

// Cancel ends an open or in-progress job. Funded escrow is refunded to the
// employer; no trust points move.
func (s *Service) Cancel(ctx context.Context, params CancelParams) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if err := requireEmployer(j, params.Actor); err != nil {
		return Job{}, err
	}
	if j.Status != StatusOpen && j.Status != StatusInProgress {
		return Job{}, fault.Transition("job", string(j.Status), string(StatusCancelled))
	}

	payment := j.PaymentStatus
	if payment == PaymentEscrowed {
		if _, err := s.escrow.Refund(ctx, tx, j.ID, params.Actor.UserID); err != nil {
			return Job{}, err
		}
		payment = PaymentRefunded
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, j.ID, StatusCancelled, payment)
	if err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit cancel: %w", err)
	}

	s.afterTransition(ctx, params.Actor.UserID, "job.cancelled", updated, nil)
	return updated, nil
}

func (s *Service) afterTransition(ctx context.Context, actorID, kind string, j Job, detail map[string]any) {
	ev := notify.Event{
		Subject:  "job.status",
		Kind:     kind,
		EntityID: j.ID,
		ActorID:  actorID,
		Data:     detail,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("job: notify failed", "kind", kind, "job_id", j.ID, "err", err)
	}
	s.auditor.Record(ctx, audit.Entry{
		Actor:    actorID,
		Action:   kind,
		Entity:   "job",
		EntityID: j.ID,
		Detail:   detail,
	})
}

func requireEmployer(j Job, actor auth.Identity) error {
	if actor.Role == auth.RoleAdmin {
		return nil
	}
	if j.EmployerID != actor.UserID {
		return fault.New(fault.Unauthorized, "job: actor is not the employer")
	}
	return nil
}

func requireAssignedWorker(j Job, actor auth.Identity) error {
	if j.AssignedWorkerID == nil || *j.AssignedWorkerID != actor.UserID {
		return fault.New(fault.Unauthorized, "job: actor is not the assigned worker")
	}
	return nil
}
