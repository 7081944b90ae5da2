package domain

import "time"

type SessionState string

const (
	SessionAnonymous           SessionState = "anonymous"
	SessionPendingVerification SessionState = "pending_verification"
	SessionAuthenticated       SessionState = "authenticated"
)

// Session is server-side state keyed by the sha256 of the client token.
// A pending session carries the candidate user; an authenticated one carries UserID.
type Session struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	TokenHash    string     `gorm:"uniqueIndex;size:64;not null" json:"token_hash"`
	UserID       *uint      `gorm:"index" json:"user_id,omitempty"`
	PendingID    *uint      `json:"pending_user_id,omitempty"`
	PendingEmail string     `gorm:"size:255" json:"pending_email,omitempty"`
	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

func (s *Session) State() SessionState {
	if s == nil {
		return SessionAnonymous
	}
	if s.UserID != nil {
		return SessionAuthenticated
	}
	if s.PendingID != nil {
		return SessionPendingVerification
	}
	return SessionAnonymous
}

func (s *Session) IsAuthenticated() bool { return s.State() == SessionAuthenticated }

func (s *Session) IsPending() bool { return s.State() == SessionPendingVerification }

// CurrentUserID returns the authenticated user, if any. Pending users are not current.
func (s *Session) CurrentUserID() (uint, bool) {
	if !s.IsAuthenticated() {
		return 0, false
	}
	return *s.UserID, true
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
