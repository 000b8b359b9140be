package auth

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleVerifier Role = "verifier"
	RoleLawyer   Role = "lawyer"
	RoleAgent    Role = "agent"
	RoleLandlord Role = "landlord"
	RoleWorker   Role = "worker"
	RoleEmployer Role = "employer"
)

// User is the domain representation of a marketplace account.
// It mirrors the users table and carries no JSON annotations so it can be
// reused by different presentation layers. TrustScore is a derived aggregate
// owned by the trust ledger; nothing else writes it.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	Role         Role
	TrustScore   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the authenticated actor every workflow operation consumes.
type Identity struct {
	UserID string
	Role   Role
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
