package job

import (
	"math"
	"time"
)

// Status is the job state machine.
type Status string

const (
	StatusOpen        Status = "open"
	StatusInProgress  Status = "in_progress"
	StatusUnderReview Status = "under_review"
	StatusCompleted   Status = "completed"
	StatusDisputed    Status = "disputed"
	StatusCancelled   Status = "cancelled"
)

// PaymentStatus tracks the escrowed funds from the job's point of view.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentEscrowed      PaymentStatus = "escrowed"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentCompleted     PaymentStatus = "completed"
	PaymentRefunded      PaymentStatus = "refunded"
)

var transitions = map[Status][]Status{
	StatusOpen:        {StatusInProgress, StatusCancelled},
	StatusInProgress:  {StatusUnderReview, StatusDisputed, StatusCancelled},
	StatusUnderReview: {StatusCompleted, StatusDisputed},
	StatusDisputed:    {StatusCompleted, StatusCancelled},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

// CanTransition reports whether the edge from -> to exists. The edges out of
// disputed are driven only by dispute resolution, never by the job engine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PlatformFeeRate is the platform's cut of every job budget.
const PlatformFeeRate = 0.02

// PlatformFee computes the fee for a budget in minor units, rounded half
// away from zero. Fixed at posting and never recomputed.
func PlatformFee(budget int64) int64 {
	return int64(math.Round(float64(budget) * PlatformFeeRate))
}

// Job mirrors the jobs table columns touched by the lifecycle manager.
type Job struct {
	ID                       string
	EmployerID               string
	AssignedWorkerID         *string
	Title                    string
	Description              string
	Category                 string
	Status                   Status
	PaymentStatus            PaymentStatus
	Budget                   int64
	EscrowAmount             int64
	PlatformFee              int64
	PartialPaymentPercentage *int
	Deadline                 *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// ApplicationStatus tracks one worker's bid on a job.
type ApplicationStatus string

const (
	ApplicationApplied     ApplicationStatus = "applied"
	ApplicationShortlisted ApplicationStatus = "shortlisted"
	ApplicationRejected    ApplicationStatus = "rejected"
	ApplicationAccepted    ApplicationStatus = "accepted"
)

// Application is one (job, worker) bid; the pair is unique.
type Application struct {
	ID           string
	JobID        string
	WorkerID     string
	ProposedRate int64
	CoverLetter  string
	Status       ApplicationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contract is the single agreement per job. Immutable once both parties have
// signed.
type Contract struct {
	ID               string
	JobID            string
	EmployerID       string
	WorkerID         string
	AgreedRate       int64
	Terms            string
	SignedByEmployer bool
	SignedByWorker   bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FullySigned reports whether both parties have signed.
func (c Contract) FullySigned() bool {
	return c.SignedByEmployer && c.SignedByWorker
}

// Party identifies which side of a contract is acting.
type Party string

const (
	PartyEmployer Party = "employer"
	PartyWorker   Party = "worker"
)

// Progress is one append-only progress report.
type Progress struct {
	ID          string
	JobID       string
	WorkerID    string
	Percentage  int
	Description string
	Evidence    []string
	CreatedAt   time.Time
}

// Review is one per (job, reviewer) rating in [1,5].
type Review struct {
	ID         string
	JobID      string
	ReviewerID string
	RevieweeID string
	Rating     int
	Comment    string
	CreatedAt  time.Time
}
