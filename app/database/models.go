package database

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	FactorTypeTOTP = "totp"

	FactorStatusUnverified = "unverified"
	FactorStatusVerified   = "verified"
)

const (
	CodePurposeInvite   = "invite"
	CodePurposeRecovery = "recovery"
)

const (
	ActionStatusPending = "pending"
	ActionStatusDone    = "done"
	ActionStatusFailed  = "failed"
)

// Account is the identity-store record: credentials and login bookkeeping.
// Application-facing attributes (name, role) live on UserInfo instead.
type Account struct {
	ID                uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Email             string    `json:"email" gorm:"uniqueIndex"`
	PasswordHash      string    `json:"-"`
	AccessFailedCount int       `json:"-" gorm:"default:0"`
	LoginCount        int       `json:"-" gorm:"default:0"`
	LastLogin         time.Time `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (a *Account) TableName() string {
	return "account"
}

// UserInfo is the application-owned profile row. Its ID equals the identity
// account ID by convention; the two tables share no foreign key and no
// transaction boundary.
type UserInfo struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	FirstName  *string   `json:"first_name"`
	LastName   *string   `json:"last_name"`
	Email      string    `json:"email"`
	Role       string    `json:"role" gorm:"default:'user'"`
	MFAEnabled bool      `json:"mfa_enabled" gorm:"default:false"`
	Avatar     *string   `json:"avatar"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (u *UserInfo) TableName() string {
	return "user_info"
}

// MFAFactor is a registered second-factor method. Secret holds the base32
// encoded TOTP seed; LastUsedCounter is the replay window floor.
type MFAFactor struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID       uuid.UUID `json:"-" gorm:"type:uuid;index"`
	Type            string    `json:"type" gorm:"default:'totp'"`
	Status          string    `json:"status" gorm:"default:'unverified'"`
	Secret          string    `json:"-"`
	LastUsedCounter int64     `json:"-" gorm:"default:-1"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"-"`
}

func (f *MFAFactor) TableName() string {
	return "mfa_factor"
}

// MFAChallenge binds one verification attempt window to a factor.
type MFAChallenge struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	FactorID  uuid.UUID `json:"-" gorm:"type:uuid;index"`
	CreatedAt time.Time `json:"created_at"`
	ExpiredAt time.Time `json:"expired_at"`
}

func (ch *MFAChallenge) TableName() string {
	return "mfa_challenge"
}

// LoginTicket bridges a successful credential check and the MFA verification
// that must follow it, so the password is never resubmitted.
type LoginTicket struct {
	Ticket    string    `json:"ticket" gorm:"primaryKey"`
	AccountID uuid.UUID `json:"-" gorm:"type:uuid;index"`
	Attempts  int       `json:"-" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	ExpiredAt time.Time `json:"expired_at"`
}

func (lt *LoginTicket) TableName() string {
	return "login_ticket"
}

type AuthRefreshToken struct {
	Token     string    `json:"token" gorm:"primaryKey"`
	AccountID uuid.UUID `json:"-" gorm:"type:uuid;index"`
	CreatedAt time.Time `json:"created_at"`
	ExpiredAt time.Time `json:"expired_at"`
}

func (art *AuthRefreshToken) TableName() string {
	return "auth_refresh_token"
}

// AccountCode is a one-time code delivered by mail: invite acceptance or
// password recovery. Exchanged exactly once through the auth callback.
type AccountCode struct {
	Code      string    `json:"code" gorm:"primaryKey"`
	AccountID uuid.UUID `json:"-" gorm:"type:uuid;index"`
	Purpose   string    `json:"purpose"`
	CreatedAt time.Time `json:"created_at"`
	ExpiredAt time.Time `json:"expired_at"`
}

func (ac *AccountCode) TableName() string {
	return "account_code"
}

// PendingAction is an intent record written before the second of two
// dependent store writes. The reconciler retries records still pending after
// the synchronous compensation attempt.
type PendingAction struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Kind        string     `json:"kind"`
	TargetID    uuid.UUID  `json:"target_id" gorm:"type:uuid"`
	Payload     JSONObject `json:"payload" gorm:"type:jsonb"`
	Status      string     `json:"status" gorm:"default:'pending'"`
	Attempts    int        `json:"attempts" gorm:"default:0"`
	MaxAttempts int        `json:"max_attempts" gorm:"default:5"`
	LastError   string     `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (pa *PendingAction) TableName() string {
	return "pending_action"
}
