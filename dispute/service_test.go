package dispute

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"trustflow/auth"
	"trustflow/escrow"
	"trustflow/fault"
	"trustflow/job"
)

var (
	employer = auth.Identity{UserID: "employer-1", Role: auth.RoleEmployer}
	worker   = auth.Identity{UserID: "worker-1", Role: auth.RoleWorker}
	admin    = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
	verifier = auth.Identity{UserID: "verifier-1", Role: auth.RoleVerifier}
)

func TestRaise(t *testing.T) {
	svc, env := newTestService()
	env.seedJob(job.StatusInProgress)

	d, err := svc.Raise(context.Background(), RaiseParams{
		JobID:  "job-1",
		Raiser: worker,
		Reason: "unpaid extras",
	})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if d.Status != StatusOpen {
		t.Fatalf("expected open dispute, got %s", d.Status)
	}
	if d.Against != employer.UserID {
		t.Fatalf("expected dispute against the employer, got %s", d.Against)
	}
	if env.jobs.job.Status != job.StatusDisputed {
		t.Fatalf("expected job disputed, got %s", env.jobs.job.Status)
	}
	if env.jobs.job.PaymentStatus != job.PaymentEscrowed {
		t.Fatalf("payment must stay frozen at escrowed, got %s", env.jobs.job.PaymentStatus)
	}
}

func TestRaise_Guards(t *testing.T) {
	svc, env := newTestService()
	env.seedJob(job.StatusOpen)

	if _, err := svc.Raise(context.Background(), RaiseParams{JobID: "job-1", Raiser: worker, Reason: "r"}); !fault.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition for open job, got %v", err)
	}

	env.seedJob(job.StatusInProgress)
	outsider := auth.Identity{UserID: "stranger", Role: auth.RoleWorker}
	if _, err := svc.Raise(context.Background(), RaiseParams{JobID: "job-1", Raiser: outsider, Reason: "r"}); !fault.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized for outsider, got %v", err)
	}

	if _, err := svc.Raise(context.Background(), RaiseParams{JobID: "job-1", Raiser: worker}); !fault.IsValidation(err) {
		t.Fatalf("expected validation error for missing reason, got %v", err)
	}
}

func TestAssignVerifier(t *testing.T) {
	svc, env := newTestService()
	env.seedJob(job.StatusInProgress)
	d := env.raise(t, svc)

	assigned, err := svc.AssignVerifier(context.Background(), AssignParams{DisputeID: d.ID, VerifierID: verifier.UserID, Actor: admin})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.Status != StatusUnderReview {
		t.Fatalf("expected under_review, got %s", assigned.Status)
	}

	_, err = svc.AssignVerifier(context.Background(), AssignParams{DisputeID: d.ID, VerifierID: "verifier-2", Actor: admin})
	if !fault.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition on re-assign without escalation, got %v", err)
	}

	if _, err := svc.AssignVerifier(context.Background(), AssignParams{DisputeID: d.ID, VerifierID: verifier.UserID, Actor: employer}); !fault.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized for non-admin, got %v", err)
	}
}

func TestEscalateAndReassign(t *testing.T) {
	svc, env := newTestService()
	env.seedJob(job.StatusInProgress)
	d := env.raise(t, svc)
	env.assign(t, svc, d.ID, verifier.UserID)

	escalated, err := svc.Escalate(context.Background(), EscalateParams{DisputeID: d.ID, Actor: worker})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if escalated.Status != StatusEscalated {
		t.Fatalf("expected escalated, got %s", escalated.Status)
	}

	// Reassignment swaps the verifier on the existing task and loops back.
	reassigned, err := svc.AssignVerifier(context.Background(), AssignParams{DisputeID: d.ID, VerifierID: "verifier-2", Actor: admin})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if reassigned.Status != StatusUnderReview {
		t.Fatalf("expected under_review after reassignment, got %s", reassigned.Status)
	}
	if got := env.repo.tasks[d.ID].VerifierID; got != "verifier-2" {
		t.Fatalf("expected task handed to verifier-2, got %s", got)
	}
	if len(env.repo.tasks) != 1 {
		t.Fatalf("expected a single task per dispute, got %d", len(env.repo.tasks))
	}
}

func TestResolve_FavorWorker(t *testing.T) {
	svc, env := newTestService()
	env.seedJob(job.StatusInProgress)
	d := env.raise(t, svc)
	env.assign(t, svc, d.ID, verifier.UserID)

	resolved, err := svc.Resolve(context.Background(), ResolveParams{
		DisputeID:  d.ID,
		Verifier:   verifier,
		Decision:   DecisionFavorWorker,
		Resolution: "work was delivered as agreed",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.Resolution == nil {
		t.Fatalf("expected resolved with text, got %+v", resolved)
	}
	if !env.escrow.released {
		t.Fatal("expected full escrow release")
	}
	if env.jobs.job.Status != job.StatusCompleted || env.jobs.job.PaymentStatus != job.PaymentCompleted {
		t.Fatalf("expected completed/completed, got %s/%s", env.jobs.job.Status, env.jobs.job.PaymentStatus)
	}
	if env.trust.penalties[employer.UserID] != PenaltyLoser {
		t.Fatalf("expected employer penalty %d, got %d", PenaltyLoser, env.trust.penalties[employer.UserID])
	}
	if _, ok := env.trust.penalties[worker.UserID]; ok {
		t.Fatal("winner must not be penalized")
	}
}

func TestResolve_FavorEmployer(t *testing.T) {
	svc, env := newTestService()
	env.seedJob(job.StatusUnderReview)
	d := env.raise(t, svc)
	env.assign(t, svc, d.ID, verifier.UserID)

	_, err := svc.Resolve(context.Background(), ResolveParams{
		DisputeID:  d.ID,
		Verifier:   verifier,
		Decision:   DecisionFavorEmployer,
		Resolution: "work never delivered",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !env.escrow.refunded {
		t.Fatal("expected escrow refund")
	}
	if env.jobs.job.Status != job.StatusCancelled || env.jobs.job.PaymentStatus != job.PaymentRefunded {
		t.Fatalf("expected cancelled/refunded, got %s/%s", env.jobs.job.Status, env.jobs.job.PaymentStatus)
	}
	if env.trust.penalties[worker.UserID] != PenaltyLoser {
		t.Fatalf("expected worker penalty %d, got %d", PenaltyLoser, env.trust.penalties[worker.UserID])
	}
}

func TestResolve_PartialPayment(t *testing.T) {
	svc, env := newTestService()
	env.seedJob(job.StatusInProgress)
	d := env.raise(t, svc)
	env.assign(t, svc, d.ID, verifier.UserID)

	pct := 60
	_, err := svc.Resolve(context.Background(), ResolveParams{
		DisputeID:        d.ID,
		Verifier:         verifier,
		Decision:         DecisionPartialPayment,
		Resolution:       "split per delivered milestones",
		WorkerPercentage: &pct,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env.escrow.splitPct != 60 {
		t.Fatalf("expected 60%% split, got %d", env.escrow.splitPct)
	}
	if env.jobs.job.Status != job.StatusCompleted || env.jobs.job.PaymentStatus != job.PaymentPartiallyPaid {
		t.Fatalf("expected completed/partially_paid, got %s/%s", env.jobs.job.Status, env.jobs.job.PaymentStatus)
	}
	if env.trust.penalties[worker.UserID] != PenaltyPartial || env.trust.penalties[employer.UserID] != PenaltyPartial {
		t.Fatalf("expected both parties at %d, got %+v", PenaltyPartial, env.trust.penalties)
	}
}

func TestResolve_Guards(t *testing.T) {
	svc, env := newTestService()
	env.seedJob(job.StatusInProgress)
	d := env.raise(t, svc)

	// Not yet assigned: open -> resolved is not an edge.
	if _, err := svc.Resolve(context.Background(), ResolveParams{DisputeID: d.ID, Verifier: verifier, Decision: DecisionFavorWorker, Resolution: "r"}); !fault.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition before assignment, got %v", err)
	}

	env.assign(t, svc, d.ID, verifier.UserID)

	stranger := auth.Identity{UserID: "verifier-9", Role: auth.RoleVerifier}
	if _, err := svc.Resolve(context.Background(), ResolveParams{DisputeID: d.ID, Verifier: stranger, Decision: DecisionFavorWorker, Resolution: "r"}); !fault.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized for non-owner, got %v", err)
	}

	if _, err := svc.Resolve(context.Background(), ResolveParams{DisputeID: d.ID, Verifier: verifier, Decision: DecisionPartialPayment, Resolution: "r"}); !fault.IsValidation(err) {
		t.Fatalf("expected validation error for missing percentage, got %v", err)
	}

	if _, err := svc.Resolve(context.Background(), ResolveParams{DisputeID: d.ID, Verifier: verifier, Decision: Decision("coin_flip"), Resolution: "r"}); !fault.IsValidation(err) {
		t.Fatalf("expected validation error for unknown decision, got %v", err)
	}
}

// --- test environment ---

type testEnv struct {
	pool   *fakePool
	repo   *fakeRepo
	jobs   *fakeJobs
	escrow *fakeEscrow
	trust  *fakeTrust
}

func newTestService() (*Service, *testEnv) {
	env := &testEnv{
		pool:   &fakePool{},
		repo:   newFakeRepo(),
		jobs:   &fakeJobs{},
		escrow: &fakeEscrow{},
		trust:  &fakeTrust{penalties: make(map[string]int)},
	}
	svc := NewService(env.pool, env.repo, env.jobs, env.escrow, env.trust, nil, nil)
	n := 0
	svc.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	})
	return svc, env
}

func (e *testEnv) seedJob(status job.Status) {
	workerID := worker.UserID
	e.jobs.job = job.Job{
		ID:               "job-1",
		EmployerID:       employer.UserID,
		AssignedWorkerID: &workerID,
		Status:           status,
		PaymentStatus:    job.PaymentEscrowed,
		Budget:           100000,
		EscrowAmount:     100000,
		PlatformFee:      2000,
	}
}

func (e *testEnv) raise(t *testing.T, svc *Service) Dispute {
	t.Helper()
	d, err := svc.Raise(context.Background(), RaiseParams{JobID: "job-1", Raiser: worker, Reason: "unpaid extras"})
	if err != nil {
		t.Fatalf("seed raise: %v", err)
	}
	return d
}

func (e *testEnv) assign(t *testing.T, svc *Service, disputeID, verifierID string) {
	t.Helper()
	if _, err := svc.AssignVerifier(context.Background(), AssignParams{DisputeID: disputeID, VerifierID: verifierID, Actor: admin}); err != nil {
		t.Fatalf("seed assign: %v", err)
	}
}

// --- fakes ---

type fakeRepo struct {
	disputes map[string]*Dispute
	tasks    map[string]*VerificationTask
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		disputes: make(map[string]*Dispute),
		tasks:    make(map[string]*VerificationTask),
	}
}

func (f *fakeRepo) Create(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	cp := d
	f.disputes[d.ID] = &cp
	return cp, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error) {
	d, ok := f.disputes[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return *d, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Dispute, error) {
	d := f.disputes[id]
	d.Status = status
	return *d, nil
}

func (f *fakeRepo) SetResolution(ctx context.Context, tx pgx.Tx, id string, resolution string) (Dispute, error) {
	d := f.disputes[id]
	d.Status = StatusResolved
	d.Resolution = &resolution
	return *d, nil
}

func (f *fakeRepo) CreateTask(ctx context.Context, tx pgx.Tx, t VerificationTask) (VerificationTask, error) {
	if _, exists := f.tasks[t.DisputeID]; exists {
		return VerificationTask{}, ErrAlreadyAssigned
	}
	cp := t
	f.tasks[t.DisputeID] = &cp
	return cp, nil
}

func (f *fakeRepo) GetTaskForUpdate(ctx context.Context, tx pgx.Tx, disputeID string) (VerificationTask, error) {
	t, ok := f.tasks[disputeID]
	if !ok {
		return VerificationTask{}, ErrTaskNotFound
	}
	return *t, nil
}

func (f *fakeRepo) ReassignTask(ctx context.Context, tx pgx.Tx, taskID, verifierID string) (VerificationTask, error) {
	for _, t := range f.tasks {
		if t.ID == taskID {
			t.VerifierID = verifierID
			return *t, nil
		}
	}
	return VerificationTask{}, ErrTaskNotFound
}

func (f *fakeRepo) SetTaskDecision(ctx context.Context, tx pgx.Tx, taskID string, decision Decision, notes string) (VerificationTask, error) {
	for _, t := range f.tasks {
		if t.ID == taskID {
			t.Decision = &decision
			t.Notes = notes
			return *t, nil
		}
	}
	return VerificationTask{}, ErrTaskNotFound
}

type fakeJobs struct {
	job job.Job
}

func (f *fakeJobs) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (job.Job, error) {
	if f.job.ID != id {
		return job.Job{}, job.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeJobs) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status job.Status, payment job.PaymentStatus) (job.Job, error) {
	f.job.Status = status
	f.job.PaymentStatus = payment
	return f.job, nil
}

type fakeEscrow struct {
	released bool
	refunded bool
	splitPct int
}

func (f *fakeEscrow) Release(ctx context.Context, tx pgx.Tx, jobID, actorID string) (escrow.Transaction, error) {
	if f.released || f.refunded {
		return escrow.Transaction{}, escrow.ErrAlreadyReleased
	}
	f.released = true
	return escrow.Transaction{JobID: jobID, Status: escrow.StatusCompleted}, nil
}

func (f *fakeEscrow) Refund(ctx context.Context, tx pgx.Tx, jobID, actorID string) (escrow.Transaction, error) {
	if f.released || f.refunded {
		return escrow.Transaction{}, escrow.ErrAlreadyReleased
	}
	f.refunded = true
	return escrow.Transaction{JobID: jobID, Status: escrow.StatusRefunded}, nil
}

func (f *fakeEscrow) Split(ctx context.Context, tx pgx.Tx, jobID string, workerPercentage int, actorID string) (escrow.Transaction, error) {
	if f.released || f.refunded || f.splitPct != 0 {
		return escrow.Transaction{}, escrow.ErrAlreadyReleased
	}
	f.splitPct = workerPercentage
	return escrow.Transaction{JobID: jobID, Status: escrow.StatusPartiallyPaid}, nil
}

type fakeTrust struct {
	penalties map[string]int
}

func (f *fakeTrust) Penalize(ctx context.Context, tx pgx.Tx, userID string, points int, reason string, jobID *string) error {
	f.penalties[userID] += points
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
