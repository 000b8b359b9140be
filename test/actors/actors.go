// Package actors holds the concurrent workload drivers for the stress test.
// Each actor loops a real service operation against shared rows; domain
// rejections (validation, conflict, invalid transition, unauthorized) are
// expected under contention and swallowed, anything else aborts the run.
package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustflow/auth"
	"trustflow/dispute"
	"trustflow/fault"
	"trustflow/job"
	"trustflow/property"
)

func expected(err error) bool {
	if err == nil {
		return true
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return true
	}
	// The chaos killer terminates backends mid-operation; the transaction
	// rolls back, which is exactly the guarantee under test.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "57") {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// Funder races to create the job's single escrow transaction. Exactly one
// call may win; the rest must lose on the unique index, never by duplicating
// the escrow.
func Funder(ctx context.Context, svc *job.Service, jobID string, employer auth.Identity, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.FundEscrow(ctx, job.FundParams{JobID: jobID, Actor: employer}); !expected(err) {
			return fmt.Errorf("funder: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Completer races to complete the job once it is under review. The escrow
// must pay out at most once regardless of how many completers fire.
func Completer(ctx context.Context, svc *job.Service, jobID string, employer auth.Identity, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		rating := 1 + rand.Intn(5)
		if _, err := svc.Complete(ctx, job.CompleteParams{JobID: jobID, Employer: employer, Rating: rating, OnTime: rand.Intn(2) == 0}); !expected(err) {
			return fmt.Errorf("completer: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Reviewer keeps nudging the job from in_progress to under_review so the
// completers have something to race over.
func Reviewer(ctx context.Context, svc *job.Service, jobID string, worker auth.Identity, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.RequestReview(ctx, job.RequestReviewParams{JobID: jobID, Worker: worker}); !expected(err) {
			return fmt.Errorf("reviewer: %w", err)
		}
		if _, err := svc.SubmitProgress(ctx, job.ProgressParams{JobID: jobID, Worker: worker, Percentage: rand.Intn(101)}); !expected(err) {
			return fmt.Errorf("reviewer progress: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Canceller races cancellation against funding and completion. A cancel must
// either refund the escrow or lose cleanly to a state guard.
func Canceller(ctx context.Context, svc *job.Service, jobID string, employer auth.Identity, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Cancel(ctx, job.CancelParams{JobID: jobID, Actor: employer}); !expected(err) {
			return fmt.Errorf("canceller: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Applicant keeps re-applying to the job; every attempt after the first must
// lose on the (job, worker) unique index.
func Applicant(ctx context.Context, svc *job.Service, jobID string, worker auth.Identity, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Apply(ctx, job.ApplyParams{JobID: jobID, Worker: worker, ProposedRate: int64(1000 + rand.Intn(9000))}); !expected(err) {
			return fmt.Errorf("applicant: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Raiser opens disputes against the shared job whenever its state allows.
func Raiser(ctx context.Context, svc *dispute.Service, jobID string, raiser auth.Identity, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Raise(ctx, dispute.RaiseParams{JobID: jobID, Raiser: raiser, Reason: "stress dispute"}); !expected(err) {
			return fmt.Errorf("raiser: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Resolver picks up whatever dispute the raisers opened, assigns itself and
// resolves with a random decision, racing the completers and cancellers for
// the escrow.
func Resolver(ctx context.Context, svc *dispute.Service, pool *pgxpool.Pool, admin, verifier auth.Identity, stop <-chan struct{}) error {
	decisions := []dispute.Decision{dispute.DecisionFavorWorker, dispute.DecisionFavorEmployer, dispute.DecisionPartialPayment}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var disputeID string
		err := pool.QueryRow(ctx, `SELECT id FROM disputes WHERE status IN ('open','under_review') ORDER BY created_at LIMIT 1`).Scan(&disputeID)
		if err != nil || disputeID == "" {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if _, err := svc.AssignVerifier(ctx, dispute.AssignParams{DisputeID: disputeID, VerifierID: verifier.UserID, Actor: admin}); !expected(err) {
			return fmt.Errorf("resolver assign: %w", err)
		}

		decision := decisions[rand.Intn(len(decisions))]
		params := dispute.ResolveParams{DisputeID: disputeID, Verifier: verifier, Decision: decision, Resolution: "stress resolution"}
		if decision == dispute.DecisionPartialPayment {
			pct := rand.Intn(101)
			params.WorkerPercentage = &pct
		}
		if _, err := svc.Resolve(ctx, params); !expected(err) {
			return fmt.Errorf("resolver resolve: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Lister creates listings that all share the same coordinates; the partial
// unique index must let exactly one through per location.
func Lister(ctx context.Context, svc *property.Service, landlord auth.Identity, lat, lng float64, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Create(ctx, property.CreateParams{
			Actor:        landlord,
			Title:        fmt.Sprintf("Stress flat %d", i),
			Address:      fmt.Sprintf("%d Stress Street", rand.Intn(100000)),
			City:         "Lagos",
			Country:      "NG",
			PropertyType: "apartment",
			ListingType:  "rent",
			Bedrooms:     1 + rand.Intn(4),
			SizeSqm:      float64(30 + rand.Intn(200)),
			Latitude:     &lat,
			Longitude:    &lng,
			Price:        int64(100000 + rand.Intn(900000)),
		})
		if !expected(err) {
			return fmt.Errorf("lister: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}
