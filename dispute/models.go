package dispute

import "time"

// Status is the dispute state machine. Escalated is re-entrant: manual
// reassignment loops it back to under_review.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusEscalated   Status = "escalated"
	StatusResolved    Status = "resolved"
)

var transitions = map[Status][]Status{
	StatusOpen:        {StatusUnderReview, StatusEscalated},
	StatusUnderReview: {StatusResolved, StatusEscalated},
	StatusEscalated:   {StatusUnderReview},
	StatusResolved:    {},
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Decision is the arbitration outcome driving the escrow payout.
type Decision string

const (
	DecisionFavorEmployer  Decision = "favor_employer"
	DecisionFavorWorker    Decision = "favor_worker"
	DecisionPartialPayment Decision = "partial_payment"
)

// Dispute mirrors the disputes table columns touched by the engine.
type Dispute struct {
	ID          string
	JobID       string
	RaisedBy    string
	Against     string
	Reason      string
	Description string
	Evidence    []string
	Status      Status
	Resolution  *string
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// VerificationTask is the single arbitration assignment per dispute.
type VerificationTask struct {
	ID         string
	DisputeID  string
	VerifierID string
	Decision   *Decision
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Trust penalties ledgered on resolution. The losing party pays the full
// penalty on a one-sided decision; both parties pay the split penalty on a
// partial payment.
const (
	PenaltyLoser   = -10
	PenaltyPartial = -5
)
