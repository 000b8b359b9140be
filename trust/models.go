package trust

import "time"

// TransactionType classifies a trust-point ledger row.
type TransactionType string

const (
	TypeJobCompletion      TransactionType = "job_completion"
	TypeEmployerCompletion TransactionType = "employer_completion"
	TypeDisputePenalty     TransactionType = "dispute_penalty"
)

// PointTransaction is one append-only ledger row. A user's trust_score must
// always equal the baseline plus the sum of their rows.
type PointTransaction struct {
	ID        int64
	UserID    string
	Points    int
	Type      TransactionType
	JobID     *string
	Reason    string
	CreatedAt time.Time
}

// Completion award schedule.
const (
	workerBasePoints    = 20
	workerRatingBonus   = 10
	workerOnTimeBonus   = 5
	employerBasePoints  = 30
	employerOnTimeBonus = 5
)

// WorkerCompletionPoints computes the worker's award for a finished job.
func WorkerCompletionPoints(rating int, onTime bool) int {
	points := workerBasePoints
	if rating >= 4 {
		points += workerRatingBonus
	}
	if onTime {
		points += workerOnTimeBonus
	}
	return points
}

// EmployerCompletionPoints computes the employer's award for a finished job.
func EmployerCompletionPoints(onTime bool) int {
	points := employerBasePoints
	if onTime {
		points += employerOnTimeBonus
	}
	return points
}
