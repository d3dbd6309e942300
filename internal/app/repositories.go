package app

import (
	"context"
	"time"

	"quiz-reward-service/internal/domain"
)

// CampaignRepository loads campaign content (from cache/backing store).
type CampaignRepository interface {
	GetCampaign(ctx context.Context, campaignID string) (domain.Campaign, error)
}

// SessionStore abstracts how attempts are persisted (in-memory, Redis).
//
// Every mutating method is a compare-and-set on the stored status: a terminal
// session is never modified, and a session never moves backwards.
type SessionStore interface {
	// Create persists a new session; ErrDuplicateActiveSession if the pair already has an active one.
	Create(ctx context.Context, session domain.Session) error
	// Get returns the session or ErrUnknownSession.
	Get(ctx context.Context, token string) (domain.Session, error)
	// FindActive returns the active session of a pair or ErrUnknownSession.
	FindActive(ctx context.Context, participantID, campaignID string) (domain.Session, error)
	// SaveAnswer upserts one answer and bumps the version, moving started to in_progress.
	// Returns ErrSessionTerminal or ErrSessionExpired without writing.
	SaveAnswer(ctx context.Context, token string, answer domain.Answer, now time.Time) (domain.Session, error)
	// Finalize completes an active session whose version still equals version.
	// A session past its deadline is abandoned instead and ErrSessionExpired returned.
	// ErrSessionTerminal and ErrVersionConflict come with the current session.
	Finalize(ctx context.Context, token string, version int64, result domain.ScoreResult, now time.Time) (domain.Session, error)
	// Abandon moves an active session to abandoned; ErrSessionTerminal otherwise.
	Abandon(ctx context.Context, token string, now time.Time) (domain.Session, error)
	// SettleReward records the allocation outcome of a completed session once.
	// Later calls leave the first outcome in place and return it.
	SettleReward(ctx context.Context, token string, status domain.RewardStatus, grant *domain.RewardGrant) (domain.Session, error)
	// ListExpired returns up to limit tokens of active sessions whose deadline is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// RewardStore holds tiers and grants. Issue is the only write on the hot path.
type RewardStore interface {
	// ListTiers returns every tier of the campaign.
	ListTiers(ctx context.Context, campaignID string) ([]domain.RewardTier, error)
	// Issue atomically checks and increments the tier counter and records the grant.
	// If the session already holds a grant, that grant is returned unchanged.
	// Returns ErrAllocationExhausted when the tier is full or inactive, ErrCodeTaken on code collision.
	Issue(ctx context.Context, grant domain.RewardGrant) (domain.RewardGrant, error)
	// GrantForSession returns the session's grant or ErrGrantNotFound.
	GrantForSession(ctx context.Context, sessionID string) (domain.RewardGrant, error)
}
