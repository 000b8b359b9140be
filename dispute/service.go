package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trustflow/audit"
	"trustflow/auth"
	"trustflow/escrow"
	"trustflow/fault"
	"trustflow/job"
	"trustflow/notify"
)

// JobStore is the slice of the job repository the engine drives: locking the
// disputed job and moving it to its post-resolution state.
type JobStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (job.Job, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status job.Status, payment job.PaymentStatus) (job.Job, error)
}

// EscrowLedger is the slice of the escrow package arbitration drives.
type EscrowLedger interface {
	Release(ctx context.Context, tx pgx.Tx, jobID, actorID string) (escrow.Transaction, error)
	Refund(ctx context.Context, tx pgx.Tx, jobID, actorID string) (escrow.Transaction, error)
	Split(ctx context.Context, tx pgx.Tx, jobID string, workerPercentage int, actorID string) (escrow.Transaction, error)
}

// TrustLedger records the penalties a resolution imposes.
type TrustLedger interface {
	Penalize(ctx context.Context, tx pgx.Tx, userID string, points int, reason string, jobID *string) error
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service raises, assigns and resolves disputes, overriding the job engine's
// payout path while a dispute is live.
type Service struct {
	pool        TxBeginner
	repo        Repository
	jobs        JobStore
	escrow      EscrowLedger
	trust       TrustLedger
	notifier    notify.Notifier
	auditor     audit.Recorder
	log         *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, jobs JobStore, escrowLedger EscrowLedger, trustLedger TrustLedger, notifier notify.Notifier, auditor audit.Recorder) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if auditor == nil {
		auditor = audit.Noop{}
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		jobs:        jobs,
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

// RaiseParams opens a dispute against the other party of a job.
type RaiseParams struct {
	JobID       string
	Raiser      auth.Identity
	Reason      string
	Description string
	Evidence    []string
}

// Raise opens a dispute and freezes the job: status moves to disputed, and
// the job engine refuses completion or cancellation until resolution.
func (s *Service) Raise(ctx context.Context, params RaiseParams) (Dispute, error) {
	if params.Reason == "" {
		return Dispute{}, fault.New(fault.Validation, "dispute: reason is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.jobs.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Dispute{}, err
	}
	if j.Status != job.StatusInProgress && j.Status != job.StatusUnderReview {
		return Dispute{}, fault.Transition("job", string(j.Status), string(job.StatusDisputed))
	}
	if j.AssignedWorkerID == nil {
		return Dispute{}, fault.New(fault.Internal, "dispute: job %s has no assigned worker", j.ID)
	}

	var against string
	switch params.Raiser.UserID {
	case j.EmployerID:
		against = *j.AssignedWorkerID
	case *j.AssignedWorkerID:
		against = j.EmployerID
	default:
		return Dispute{}, fault.New(fault.Unauthorized, "dispute: raiser is not a party to the job")
	}

	created, err := s.repo.Create(ctx, tx, Dispute{
		ID:          s.idGenerator(),
		JobID:       j.ID,
		RaisedBy:    params.Raiser.UserID,
		Against:     against,
		Reason:      params.Reason,
		Description: params.Description,
		Evidence:    params.Evidence,
		Status:      StatusOpen,
	})
	if err != nil {
		return Dispute{}, err
	}

	// Payment status is frozen as-is; only resolution moves it again.
	if _, err := s.jobs.UpdateStatus(ctx, tx, j.ID, job.StatusDisputed, j.PaymentStatus); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit raise: %w", err)
	}

	s.afterTransition(ctx, params.Raiser.UserID, "dispute.raised", created, map[string]any{
		"job_id": j.ID,
		"reason": params.Reason,
	})
	return created, nil
}

// AssignParams hands a dispute to a verifier.
type AssignParams struct {
	DisputeID  string
	VerifierID string
	Actor      auth.Identity
}

// AssignVerifier creates the dispute's single verification task, or swaps the
// verifier on an escalated dispute, and moves the dispute to under_review.
func (s *Service) AssignVerifier(ctx context.Context, params AssignParams) (Dispute, error) {
	if params.Actor.Role != auth.RoleAdmin {
		return Dispute{}, fault.New(fault.Unauthorized, "dispute: only admins assign verifiers")
	}
	if params.VerifierID == "" {
		return Dispute{}, fault.New(fault.Validation, "dispute: missing verifier id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return Dispute{}, err
	}
	if !CanTransition(d.Status, StatusUnderReview) {
		return Dispute{}, fault.Transition("dispute", string(d.Status), string(StatusUnderReview))
	}

	if d.Status == StatusEscalated {
		task, err := s.repo.GetTaskForUpdate(ctx, tx, d.ID)
		if err != nil {
			return Dispute{}, err
		}
		if _, err := s.repo.ReassignTask(ctx, tx, task.ID, params.VerifierID); err != nil {
			return Dispute{}, err
		}
	} else {
		if _, err := s.repo.CreateTask(ctx, tx, VerificationTask{
			ID:         s.idGenerator(),
			DisputeID:  d.ID,
			VerifierID: params.VerifierID,
		}); err != nil {
			return Dispute{}, err
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, d.ID, StatusUnderReview)
	if err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit assign: %w", err)
	}

	s.afterTransition(ctx, params.Actor.UserID, "dispute.verifier_assigned", updated, map[string]any{
		"verifier_id": params.VerifierID,
	})
	return updated, nil
}

// EscalateParams flags a dispute for manual reassignment.
type EscalateParams struct {
	DisputeID string
	Actor     auth.Identity
}

// Escalate parks the dispute until an admin reassigns it.
func (s *Service) Escalate(ctx context.Context, params EscalateParams) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return Dispute{}, err
	}
	if params.Actor.Role != auth.RoleAdmin && params.Actor.UserID != d.RaisedBy && params.Actor.UserID != d.Against {
		return Dispute{}, fault.New(fault.Unauthorized, "dispute: actor cannot escalate this dispute")
	}
	if !CanTransition(d.Status, StatusEscalated) {
		return Dispute{}, fault.Transition("dispute", string(d.Status), string(StatusEscalated))
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, d.ID, StatusEscalated)
	if err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit escalate: %w", err)
	}

	s.afterTransition(ctx, params.Actor.UserID, "dispute.escalated", updated, nil)
	return updated, nil
}

// ResolveParams carries the verifier's decision.
type ResolveParams struct {
	DisputeID        string
	Verifier         auth.Identity
	Decision         Decision
	Resolution       string
	WorkerPercentage *int
}

// Resolve applies the arbitration decision: the escrow pays out per the
// decision, the job lands in its post-dispute state, penalties are ledgered
// and the dispute closes. All in one transaction.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) (Dispute, error) {
	if params.Resolution == "" {
		return Dispute{}, fault.New(fault.Validation, "dispute: resolution text is required")
	}
	switch params.Decision {
	case DecisionFavorEmployer, DecisionFavorWorker:
	case DecisionPartialPayment:
		if params.WorkerPercentage == nil {
			return Dispute{}, fault.New(fault.Validation, "dispute: partial payment requires a percentage")
		}
		if pct := *params.WorkerPercentage; pct < 0 || pct > 100 {
			return Dispute{}, fault.New(fault.Validation, "dispute: percentage %d out of range [0,100]", pct)
		}
	default:
		return Dispute{}, fault.New(fault.Validation, "dispute: unknown decision %q", params.Decision)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return Dispute{}, err
	}
	if !CanTransition(d.Status, StatusResolved) {
		return Dispute{}, fault.Transition("dispute", string(d.Status), string(StatusResolved))
	}

	task, err := s.repo.GetTaskForUpdate(ctx, tx, d.ID)
	if err != nil {
		return Dispute{}, err
	}
	if task.VerifierID != params.Verifier.UserID && params.Verifier.Role != auth.RoleAdmin {
		return Dispute{}, fault.New(fault.Unauthorized, "dispute: actor does not own the verification task")
	}

	j, err := s.jobs.GetForUpdate(ctx, tx, d.JobID)
	if err != nil {
		return Dispute{}, err
	}
	if j.Status != job.StatusDisputed {
		return Dispute{}, fault.Transition("job", string(j.Status), string(job.StatusCompleted))
	}
	if j.AssignedWorkerID == nil {
		return Dispute{}, fault.New(fault.Internal, "dispute: job %s has no assigned worker", j.ID)
	}
	workerID := *j.AssignedWorkerID
	jobID := j.ID

	switch params.Decision {
	case DecisionFavorWorker:
		if _, err := s.escrow.Release(ctx, tx, jobID, params.Verifier.UserID); err != nil {
			return Dispute{}, err
		}
		if _, err := s.jobs.UpdateStatus(ctx, tx, jobID, job.StatusCompleted, job.PaymentCompleted); err != nil {
			return Dispute{}, err
		}
		if err := s.trust.Penalize(ctx, tx, j.EmployerID, PenaltyLoser, "dispute lost", &jobID); err != nil {
			return Dispute{}, err
		}

	case DecisionFavorEmployer:
		if _, err := s.escrow.Refund(ctx, tx, jobID, params.Verifier.UserID); err != nil {
			return Dispute{}, err
		}
		if _, err := s.jobs.UpdateStatus(ctx, tx, jobID, job.StatusCancelled, job.PaymentRefunded); err != nil {
			return Dispute{}, err
		}
		if err := s.trust.Penalize(ctx, tx, workerID, PenaltyLoser, "dispute lost", &jobID); err != nil {
			return Dispute{}, err
		}

	case DecisionPartialPayment:
		if _, err := s.escrow.Split(ctx, tx, jobID, *params.WorkerPercentage, params.Verifier.UserID); err != nil {
			return Dispute{}, err
		}
		if _, err := s.jobs.UpdateStatus(ctx, tx, jobID, job.StatusCompleted, job.PaymentPartiallyPaid); err != nil {
			return Dispute{}, err
		}
		if err := s.trust.Penalize(ctx, tx, workerID, PenaltyPartial, "dispute split", &jobID); err != nil {
			return Dispute{}, err
		}
		if err := s.trust.Penalize(ctx, tx, j.EmployerID, PenaltyPartial, "dispute split", &jobID); err != nil {
			return Dispute{}, err
		}
	}

	if _, err := s.repo.SetTaskDecision(ctx, tx, task.ID, params.Decision, params.Resolution); err != nil {
		return Dispute{}, err
	}

	resolved, err := s.repo.SetResolution(ctx, tx, d.ID, params.Resolution)
	if err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	s.afterTransition(ctx, params.Verifier.UserID, "dispute.resolved", resolved, map[string]any{
		"job_id":   jobID,
		"decision": string(params.Decision),
	})
	return resolved, nil
}

func (s *Service) afterTransition(ctx context.Context, actorID, kind string, d Dispute, detail map[string]any) {
	ev := notify.Event{
		Subject:  "dispute.status",
		Kind:     kind,
		EntityID: d.ID,
		ActorID:  actorID,
		Data:     detail,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("dispute: notify failed", "kind", kind, "dispute_id", d.ID, "err", err)
	}
	s.auditor.Record(ctx, audit.Entry{
		Actor:    actorID,
		Action:   kind,
		Entity:   "dispute",
		EntityID: d.ID,
		Detail:   detail,
	})
}
