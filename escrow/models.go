package escrow

import "time"

// Status mirrors the job's payment status for the escrowed funds.
type Status string

const (
	StatusEscrowed      Status = "escrowed"
	StatusPartiallyPaid Status = "partially_paid"
	StatusCompleted     Status = "completed"
	StatusRefunded      Status = "refunded"
)

// Transaction is the single escrow row a job may ever have. Amount and
// PlatformFee are fixed at funding time and never recomputed.
type Transaction struct {
	ID          string
	JobID       string
	Amount      int64
	PlatformFee int64
	Status      Status
	ReleasedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EventKind classifies an escrow ledger event.
type EventKind string

const (
	EventFunded         EventKind = "funded"
	EventPartialRelease EventKind = "partial_release"
	EventReleased       EventKind = "released"
	EventRefunded       EventKind = "refunded"
)

// Event is one immutable ledger row. Replaying a job's events must always
// reproduce the Transaction aggregate.
type Event struct {
	ID        int64
	EscrowID  string
	JobID     string
	Kind      EventKind
	Amount    int64
	ActorID   *string
	CreatedAt time.Time
}

// Terminal reports whether no further release or refund is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}
