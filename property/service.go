package property

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trustflow/audit"
	"trustflow/auth"
	"trustflow/fault"
	"trustflow/notify"
)

var (
	// ErrWrongVerifierRole signals a verifier acting outside the pending stage.
	ErrWrongVerifierRole = fault.New(fault.Unauthorized, "property: verifier role does not match pending stage")
	// ErrNoPendingStage signals a verification submitted against a listing
	// that is not waiting on any verifier.
	ErrNoPendingStage = fault.New(fault.InvalidTransition, "property: no pending verification stage")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service runs the two-stage listing verification pipeline.
type Service struct {
	pool        TxBeginner
	repo        Repository
	notifier    notify.Notifier
	auditor     audit.Recorder
	log         *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, notifier notify.Notifier, auditor audit.Recorder) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if auditor == nil {
		auditor = audit.Noop{}
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		notifier:    notifier,
		auditor:     auditor,
		log:         slog.Default(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(log *slog.Logger) *Service {
	s.log = log
	return s
}

// CreateParams carries a new listing. Hashes are derived, not supplied.
type CreateParams struct {
	Actor        auth.Identity
	Title        string
	Address      string
	City         string
	State        string
	LGA          string
	Country      string
	PropertyType string
	ListingType  string
	Bedrooms     int
	SizeSqm      float64
	Latitude     *float64
	Longitude    *float64
	Price        int64
	BiddingPrice *int64
	AgentID      *string
	LawyerID     *string
}

// Create inserts a draft listing after fingerprinting it for duplicates.
func (s *Service) Create(ctx context.Context, params CreateParams) (Property, error) {
	switch params.Actor.Role {
	case auth.RoleLandlord, auth.RoleAgent, auth.RoleAdmin:
	default:
		return Property{}, fault.New(fault.Unauthorized, "property: role %s cannot create listings", params.Actor.Role)
	}
	if params.Address == "" || params.City == "" || params.Country == "" {
		return Property{}, fault.New(fault.Validation, "property: address, city and country are required")
	}
	if params.Price <= 0 {
		return Property{}, fault.New(fault.Validation, "property: price must be positive, got %d", params.Price)
	}
	if params.BiddingPrice != nil && *params.BiddingPrice <= params.Price {
		return Property{}, fault.New(fault.Validation, "property: bidding price must exceed price")
	}
	if (params.Latitude == nil) != (params.Longitude == nil) {
		return Property{}, fault.New(fault.Validation, "property: latitude and longitude must be supplied together")
	}

	p := Property{
		ID:           s.idGenerator(),
		LandlordID:   params.Actor.UserID,
		AgentID:      params.AgentID,
		LawyerID:     params.LawyerID,
		Title:        params.Title,
		Address:      params.Address,
		City:         params.City,
		State:        params.State,
		LGA:          params.LGA,
		Country:      params.Country,
		PropertyType: params.PropertyType,
		ListingType:  params.ListingType,
		Bedrooms:     params.Bedrooms,
		SizeSqm:      params.SizeSqm,
		Latitude:     params.Latitude,
		Longitude:    params.Longitude,
		Price:        params.Price,
		BiddingPrice: params.BiddingPrice,
		Status:       StatusDraft,
	}
	p.PropertyHash = ContentHash(p)
	p.CoordinatesHash = CoordinatesHash(params.Latitude, params.Longitude)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Property{}, fmt.Errorf("property: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, p)
	if err != nil {
		return Property{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Property{}, fmt.Errorf("property: commit create: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		Actor:    params.Actor.UserID,
		Action:   "property.create",
		Entity:   "property",
		EntityID: created.ID,
	})
	return created, nil
}

// SubmitVerificationParams carries one verifier action.
type SubmitVerificationParams struct {
	PropertyID string
	Verifier   auth.Identity
	Verdict    Verdict
	Notes      string
	Photos     []string
}

// SubmitVerification records the verifier's verdict and moves the listing
// through its pending stage. The verification row is written whatever the
// verdict; a rejection ends the pipeline.
func (s *Service) SubmitVerification(ctx context.Context, params SubmitVerificationParams) (Property, error) {
	if params.PropertyID == "" {
		return Property{}, fault.New(fault.Validation, "property: missing property id")
	}
	if params.Verdict != VerdictApproved && params.Verdict != VerdictRejected {
		return Property{}, fault.New(fault.Validation, "property: unknown verdict %q", params.Verdict)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Property{}, fmt.Errorf("property: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, params.PropertyID)
	if err != nil {
		return Property{}, err
	}

	stage, ok := pendingStage(p.Status)
	if !ok {
		return Property{}, ErrNoPendingStage
	}
	if !roleMatchesStage(params.Verifier.Role, stage) {
		return Property{}, ErrWrongVerifierRole
	}

	if _, err := s.repo.InsertVerification(ctx, tx, Verification{
		ID:           s.idGenerator(),
		PropertyID:   p.ID,
		VerifierID:   params.Verifier.UserID,
		VerifierType: stage,
		Verdict:      params.Verdict,
		Notes:        params.Notes,
		Photos:       params.Photos,
	}); err != nil {
		return Property{}, err
	}

	next := StatusRejected
	if params.Verdict == VerdictApproved {
		next = stageApproved(stage)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, p.ID, next, false, false)
	if err != nil {
		return Property{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Property{}, fmt.Errorf("property: commit verification: %w", err)
	}

	s.afterTransition(ctx, params.Verifier.UserID, "property.verification_submitted", updated, map[string]any{
		"stage":   string(stage),
		"verdict": string(params.Verdict),
	})
	return updated, nil
}

// TransitionParams carries an administrative status move.
type TransitionParams struct {
	PropertyID string
	Actor      auth.Identity
	Next       Status
}

// TransitionStatus enforces the listing state graph. Entering active stamps
// listed_at; leaving it clears the stamp.
func (s *Service) TransitionStatus(ctx context.Context, params TransitionParams) (Property, error) {
	if params.PropertyID == "" {
		return Property{}, fault.New(fault.Validation, "property: missing property id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Property{}, fmt.Errorf("property: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, params.PropertyID)
	if err != nil {
		return Property{}, err
	}

	if !CanTransition(p.Status, params.Next) {
		return Property{}, fault.Transition("property", string(p.Status), string(params.Next))
	}

	entering := params.Next == StatusActive && p.Status != StatusActive
	leaving := p.Status == StatusActive && params.Next != StatusActive

	updated, err := s.repo.UpdateStatus(ctx, tx, p.ID, params.Next, entering, leaving)
	if err != nil {
		return Property{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Property{}, fmt.Errorf("property: commit transition: %w", err)
	}

	s.afterTransition(ctx, params.Actor.UserID, "property.status_changed", updated, map[string]any{
		"previous": string(p.Status),
		"next":     string(params.Next),
	})
	return updated, nil
}

// afterTransition fans out the post-commit notification and audit entry.
// Notification failures are logged and dropped.
func (s *Service) afterTransition(ctx context.Context, actorID, kind string, p Property, detail map[string]any) {
	ev := notify.Event{
		Subject:  "property.status",
		Kind:     kind,
		EntityID: p.ID,
		ActorID:  actorID,
		Data:     detail,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("property: notify failed", "kind", kind, "property_id", p.ID, "err", err)
	}
	s.auditor.Record(ctx, audit.Entry{
		Actor:    actorID,
		Action:   kind,
		Entity:   "property",
		EntityID: p.ID,
		Detail:   detail,
	})
}

func roleMatchesStage(role auth.Role, stage VerifierType) bool {
	switch stage {
	case VerifierAgent:
		return role == auth.RoleAgent
	case VerifierLawyer:
		return role == auth.RoleLawyer
	default:
		return false
	}
}
