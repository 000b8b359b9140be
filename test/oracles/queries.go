package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_escrow_per_job",
			SQL: `SELECT job_id, COUNT(*) FROM escrow_transactions
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_escrow_funded_event",
			SQL: `SELECT t.id FROM escrow_transactions t
                  LEFT JOIN escrow_events e ON e.escrow_id = t.id AND e.kind = 'funded' AND e.amount = t.amount
                  WHERE e.id IS NULL`,
		},
		{
			Name: "O3_escrow_replay_matches_aggregate",
			SQL: `SELECT t.id, t.status, t.amount, SUM(e.amount) AS paid_out
                  FROM escrow_transactions t
                  JOIN escrow_events e ON e.escrow_id = t.id AND e.kind IN ('partial_release','released','refunded')
                  WHERE t.status IN ('completed','refunded') OR (t.status = 'partially_paid' AND t.released_at IS NOT NULL)
                  GROUP BY t.id HAVING SUM(e.amount) <> t.amount`,
		},
		{
			Name: "O4_no_release_after_refund",
			SQL: `SELECT escrow_id FROM escrow_events
                  WHERE kind IN ('released','refunded')
                  GROUP BY escrow_id
                  HAVING COUNT(DISTINCT kind) > 1 AND bool_or(kind = 'released')`,
		},
		{
			Name: "O5_trust_score_equals_ledger",
			SQL: `SELECT u.id, u.trust_score,
                         100 + COALESCE((SELECT SUM(points) FROM trust_point_transactions WHERE user_id = u.id), 0) AS expected
                  FROM users u
                  WHERE u.trust_score <> 100 + COALESCE((SELECT SUM(points) FROM trust_point_transactions WHERE user_id = u.id), 0)`,
		},
		{
			Name: "O6_platform_fee_formula",
			SQL:  `SELECT id, budget, platform_fee FROM jobs WHERE platform_fee <> ROUND(budget * 0.02)`,
		},
		{
			Name: "O7_job_payment_consistency",
			SQL: `SELECT id, status, payment_status FROM jobs
                  WHERE (status = 'completed' AND payment_status NOT IN ('completed','partially_paid'))
                     OR (status = 'cancelled' AND payment_status NOT IN ('pending','refunded'))
                     OR (status = 'open' AND payment_status <> 'pending')`,
		},
		{
			Name: "O8_escrow_requires_signed_contract",
			SQL: `SELECT t.id FROM escrow_transactions t
                  LEFT JOIN job_contracts c ON c.job_id = t.job_id
                  WHERE c.id IS NULL OR NOT (c.signed_by_employer AND c.signed_by_worker)`,
		},
		{
			Name: "O9_coordinates_hash_unique",
			SQL: `SELECT coordinates_hash, COUNT(*) FROM properties
                  WHERE coordinates_hash <> repeat('0', 64)
                  GROUP BY coordinates_hash HAVING COUNT(*) > 1`,
		},
		{
			Name: "O10_active_listing_has_listed_at",
			SQL:  `SELECT id, status FROM properties WHERE status = 'active' AND listed_at IS NULL`,
		},
		{
			Name: "O11_one_assigned_contract",
			SQL: `SELECT c.job_id FROM job_contracts c
                  JOIN jobs j ON j.id = c.job_id
                  WHERE j.assigned_worker_id IS NULL OR c.worker_id <> j.assigned_worker_id`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
