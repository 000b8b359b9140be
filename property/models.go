package property

import "time"

// Status is the listing state machine.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusAwaitingAgent  Status = "awaiting_agent"
	StatusAgentVerified  Status = "agent_verified"
	StatusAwaitingLawyer Status = "awaiting_lawyer"
	StatusLawyerVerified Status = "lawyer_verified"
	StatusActive         Status = "active"
	StatusSuspended      Status = "suspended"
	StatusRejected       Status = "rejected"
	StatusSold           Status = "sold"
	StatusRented         Status = "rented"
)

// transitions is the exhaustive edge table. Rejected, sold and rented are
// terminal. Suspended listings resume to active after review.
var transitions = map[Status][]Status{
	StatusDraft:          {StatusAwaitingAgent, StatusAgentVerified, StatusRejected, StatusSuspended},
	StatusAwaitingAgent:  {StatusAgentVerified, StatusRejected, StatusSuspended},
	StatusAgentVerified:  {StatusAwaitingLawyer, StatusLawyerVerified, StatusRejected, StatusSuspended},
	StatusAwaitingLawyer: {StatusLawyerVerified, StatusRejected, StatusSuspended},
	StatusLawyerVerified: {StatusActive, StatusRejected, StatusSuspended},
	StatusActive:         {StatusSuspended, StatusSold, StatusRented},
	StatusSuspended:      {StatusActive, StatusRejected},
	StatusRejected:       {},
	StatusSold:           {},
	StatusRented:         {},
}

// CanTransition reports whether the edge from -> to exists in the table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no edge leaves the state.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// VerifierType identifies which verification stage a verifier acts in.
type VerifierType string

const (
	VerifierAgent  VerifierType = "agent"
	VerifierLawyer VerifierType = "lawyer"
)

// Verdict is the outcome of a single verification.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Property mirrors the properties table columns touched by the pipeline.
type Property struct {
	ID              string
	LandlordID      string
	AgentID         *string
	LawyerID        *string
	Title           string
	Address         string
	City            string
	State           string
	LGA             string
	Country         string
	PropertyType    string
	ListingType     string
	Bedrooms        int
	SizeSqm         float64
	Latitude        *float64
	Longitude       *float64
	Price           int64
	BiddingPrice    *int64
	PropertyHash    string
	CoordinatesHash string
	Status          Status
	ListedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Verification is one immutable row per verifier action.
type Verification struct {
	ID           string
	PropertyID   string
	VerifierID   string
	VerifierType VerifierType
	Verdict      Verdict
	Notes        string
	Photos       []string
	CreatedAt    time.Time
}

// pendingStage reports the verification stage a status is waiting on, if any.
func pendingStage(s Status) (VerifierType, bool) {
	switch s {
	case StatusDraft, StatusAwaitingAgent:
		return VerifierAgent, true
	case StatusAgentVerified, StatusAwaitingLawyer:
		return VerifierLawyer, true
	default:
		return "", false
	}
}

// stageApproved is the state an approved verification lands in.
func stageApproved(stage VerifierType) Status {
	if stage == VerifierAgent {
		return StatusAgentVerified
	}
	return StatusLawyerVerified
}
