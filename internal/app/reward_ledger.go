package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-reward-service/internal/domain"
)

const (
	DefaultCodeLength   = 10
	DefaultCodeAttempts = 5

	// codeAlphabet drops 0/O and 1/I/L.
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// CodeGenerator produces candidate reward codes.
type CodeGenerator func() (string, error)

// RandomCodes returns a generator of length-character codes from crypto/rand.
func RandomCodes(length int) CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	return func() (string, error) {
		buf := make([]byte, length)
		for i := range buf {
			n, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return "", err
			}
			buf[i] = codeAlphabet[n.Int64()]
		}
		return string(buf), nil
	}
}

// Allocation is the ledger's answer for one finished session.
type Allocation struct {
	Status domain.RewardStatus
	Grant  *domain.RewardGrant
}

// RewardLedger selects a tier and issues grants through an atomic store.
type RewardLedger struct {
	store        RewardStore
	codes        CodeGenerator
	codeAttempts int
	now          func() time.Time
	log          zerolog.Logger
}

func NewRewardLedger(store RewardStore, codes CodeGenerator, codeAttempts int, log zerolog.Logger) *RewardLedger {
	if codes == nil {
		codes = RandomCodes(DefaultCodeLength)
	}
	if codeAttempts <= 0 {
		codeAttempts = DefaultCodeAttempts
	}
	return &RewardLedger{
		store:        store,
		codes:        codes,
		codeAttempts: codeAttempts,
		now:          time.Now,
		log:          log.With().Str("component", "reward_ledger").Logger(),
	}
}

// Allocate issues at most one grant for the session.
//
// Candidates are the active tiers whose score and percentage ranges both
// contain the inputs, tried by highest minimum score then highest minimum
// percentage. A full tier falls through to the next candidate. No candidate
// at all is a normal outcome, not an error.
func (l *RewardLedger) Allocate(ctx context.Context, campaignID, sessionID string, score int, percentage float64) (Allocation, error) {
	if existing, err := l.store.GrantForSession(ctx, sessionID); err == nil {
		return Allocation{Status: domain.RewardGranted, Grant: &existing}, nil
	} else if !errors.Is(err, domain.ErrGrantNotFound) {
		return Allocation{}, domain.Persistence("lookup grant", err)
	}

	tiers, err := l.store.ListTiers(ctx, campaignID)
	if err != nil {
		return Allocation{}, domain.Persistence("list tiers", err)
	}
	candidates := MatchingTiers(tiers, score, percentage)
	if len(candidates) == 0 {
		return Allocation{Status: domain.RewardNoMatchingTier}, nil
	}

	for _, tier := range candidates {
		grant, err := l.issue(ctx, tier, sessionID)
		if errors.Is(err, domain.ErrAllocationExhausted) {
			l.log.Debug().Str("tier", tier.ID).Str("session", sessionID).Msg("tier exhausted, falling through")
			continue
		}
		if err != nil {
			return Allocation{}, err
		}
		l.log.Info().Str("tier", grant.TierID).Str("session", sessionID).Msg("reward granted")
		return Allocation{Status: domain.RewardGranted, Grant: &grant}, nil
	}

	l.log.Info().Str("campaign", campaignID).Str("session", sessionID).Msg("matching tiers exhausted")
	return Allocation{Status: domain.RewardExhausted}, nil
}

// issue retries code generation until the store accepts a code.
func (l *RewardLedger) issue(ctx context.Context, tier domain.RewardTier, sessionID string) (domain.RewardGrant, error) {
	for attempt := 0; attempt < l.codeAttempts; attempt++ {
		code, err := l.codes()
		if err != nil {
			return domain.RewardGrant{}, domain.Persistence("generate code", err)
		}
		grant, err := l.store.Issue(ctx, domain.RewardGrant{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			TierID:     tier.ID,
			CampaignID: tier.CampaignID,
			Code:       code,
			IssuedAt:   l.now().UTC(),
		})
		switch {
		case err == nil:
			return grant, nil
		case errors.Is(err, domain.ErrCodeTaken):
			l.log.Warn().Str("tier", tier.ID).Int("attempt", attempt+1).Msg("reward code collision")
			continue
		case errors.Is(err, domain.ErrAllocationExhausted):
			return domain.RewardGrant{}, err
		default:
			return domain.RewardGrant{}, domain.Persistence("issue grant", err)
		}
	}
	return domain.RewardGrant{}, domain.Persistence("issue grant", fmt.Errorf("no unique code after %d attempts", l.codeAttempts))
}

// MatchingTiers filters and orders the tiers eligible for a score.
func MatchingTiers(tiers []domain.RewardTier, score int, percentage float64) []domain.RewardTier {
	out := make([]domain.RewardTier, 0, len(tiers))
	for _, t := range tiers {
		if t.Active && t.Matches(score, percentage) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MinScore != out[j].MinScore {
			return out[i].MinScore > out[j].MinScore
		}
		if out[i].MinPercentage != out[j].MinPercentage {
			return out[i].MinPercentage > out[j].MinPercentage
		}
		return out[i].ID < out[j].ID
	})
	return out
}
