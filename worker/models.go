package worker

import "time"

// Profile is a worker's public marketplace card. Rating and CompletedJobs are
// maintained by the trust ledger's recompute pass, never written directly.
type Profile struct {
	ID            string
	UserID        string
	Category      string
	Bio           string
	HourlyRate    int64
	Rating        float64
	CompletedJobs int
	Available     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
