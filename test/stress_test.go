package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"trustflow/auth"
	"trustflow/dispute"
	"trustflow/escrow"
	"trustflow/job"
	"trustflow/property"
	"trustflow/test/actors"
	"trustflow/test/chaos"
	"trustflow/test/infra"
	"trustflow/test/oracles"
	"trustflow/trust"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestWorkflowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	escrowLedger := escrow.NewLedger()
	trustLedger := trust.NewLedger()
	jobService := job.NewService(pool, job.NewRepository(pool), escrowLedger, trustLedger, nil, nil)
	disputeService := dispute.NewService(pool, dispute.NewRepository(pool), job.NewRepository(pool), escrowLedger, trustLedger, nil, nil)
	propertyService := property.NewService(pool, property.NewRepository(pool), nil, nil)

	seedData := mustSeed(t, ctx, pool, jobService)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// funders, completers and cancellers battling over the same contracted job
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Funder(ctx2, jobService, seedData.jobID, seedData.employer, stop) })
		g.Go(func() error {
			return actors.Completer(ctx2, jobService, seedData.jobID, seedData.employer, stop)
		})
	}
	g.Go(func() error { return actors.Reviewer(ctx2, jobService, seedData.jobID, seedData.worker, stop) })
	g.Go(func() error { return actors.Canceller(ctx2, jobService, seedData.jobID, seedData.employer, stop) })

	// losers of the acceptance keep re-applying to the open second job
	g.Go(func() error { return actors.Applicant(ctx2, jobService, seedData.openJobID, seedData.worker2, stop) })

	// dispute raise/resolve loop racing the completers for the escrow
	g.Go(func() error { return actors.Raiser(ctx2, disputeService, seedData.jobID, seedData.worker, stop) })
	g.Go(func() error {
		return actors.Resolver(ctx2, disputeService, pool, seedData.admin, seedData.verifier, stop)
	})

	// listing creators colliding on one location
	g.Go(func() error {
		return actors.Lister(ctx2, propertyService, seedData.landlord, 6.5244, 3.3792, stop)
	})

	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, "", stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	employer  auth.Identity
	worker    auth.Identity
	worker2   auth.Identity
	landlord  auth.Identity
	admin     auth.Identity
	verifier  auth.Identity
	jobID     string
	openJobID string
}

func seedUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool, role auth.Role) auth.Identity {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, $2, 'x', $3) RETURNING id`,
		fmt.Sprintf("%s-%d@example.com", role, rand.Int63()), "Stress User", role,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed %s: %v", role, err)
	}
	return auth.Identity{UserID: id, Role: role}
}

// mustSeed builds a contracted job the funders can race over, plus a second
// open job for the applicant loop.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, jobService *job.Service) seedIDs {
	t.Helper()
	s := seedIDs{
		employer: seedUser(t, ctx, pool, auth.RoleEmployer),
		worker:   seedUser(t, ctx, pool, auth.RoleWorker),
		worker2:  seedUser(t, ctx, pool, auth.RoleWorker),
		landlord: seedUser(t, ctx, pool, auth.RoleLandlord),
		admin:    seedUser(t, ctx, pool, auth.RoleAdmin),
		verifier: seedUser(t, ctx, pool, auth.RoleVerifier),
	}

	posted, err := jobService.Post(ctx, job.PostParams{Employer: s.employer, Title: "Stress job", Budget: 100000})
	if err != nil {
		t.Fatalf("seed post: %v", err)
	}
	s.jobID = posted.ID

	if _, err := jobService.Apply(ctx, job.ApplyParams{JobID: s.jobID, Worker: s.worker, ProposedRate: 90000}); err != nil {
		t.Fatalf("seed apply: %v", err)
	}
	if _, err := jobService.AcceptApplication(ctx, job.AcceptParams{JobID: s.jobID, WorkerID: s.worker.UserID, Actor: s.employer}); err != nil {
		t.Fatalf("seed accept: %v", err)
	}
	if _, err := jobService.SignContract(ctx, job.SignParams{JobID: s.jobID, Actor: s.employer}); err != nil {
		t.Fatalf("seed employer sign: %v", err)
	}
	if _, err := jobService.SignContract(ctx, job.SignParams{JobID: s.jobID, Actor: s.worker}); err != nil {
		t.Fatalf("seed worker sign: %v", err)
	}

	open, err := jobService.Post(ctx, job.PostParams{Employer: s.employer, Title: "Stress job two", Budget: 50000})
	if err != nil {
		t.Fatalf("seed open post: %v", err)
	}
	s.openJobID = open.ID

	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"jobs", `SELECT id, status, payment_status, updated_at FROM jobs ORDER BY updated_at DESC LIMIT 50`},
		{"escrow_events", `SELECT id, escrow_id, kind, amount, created_at FROM escrow_events ORDER BY id DESC LIMIT 50`},
		{"disputes", `SELECT id, job_id, status, resolution, updated_at FROM disputes ORDER BY updated_at DESC LIMIT 50`},
		{"trust_point_transactions", `SELECT id, user_id, points, transaction_type, created_at FROM trust_point_transactions ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
