package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-reward-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore.
//
// Each session carries its own mutex, so sessions never contend with each
// other. Lock order is record before store; Create only takes the store lock.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	active   map[pairKey]string
}

type sessionRecord struct {
	mu      sync.Mutex
	session domain.Session
}

type pairKey struct {
	participantID string
	campaignID    string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionRecord),
		active:   make(map[pairKey]string),
	}
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	key := pairKey{session.ParticipantID, session.CampaignID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[key]; ok {
		return domain.ErrDuplicateActiveSession
	}
	if _, ok := s.sessions[session.Token]; ok {
		return domain.ErrDuplicateActiveSession
	}
	s.sessions[session.Token] = &sessionRecord{session: session.Clone()}
	s.active[key] = session.Token
	return nil
}

func (s *SessionStore) Get(_ context.Context, token string) (domain.Session, error) {
	rec, ok := s.record(token)
	if !ok {
		return domain.Session{}, domain.ErrUnknownSession
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session.Clone(), nil
}

func (s *SessionStore) FindActive(ctx context.Context, participantID, campaignID string) (domain.Session, error) {
	s.mu.RLock()
	token, ok := s.active[pairKey{participantID, campaignID}]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrUnknownSession
	}
	return s.Get(ctx, token)
}

func (s *SessionStore) SaveAnswer(_ context.Context, token string, answer domain.Answer, now time.Time) (domain.Session, error) {
	return s.mutate(token, func(sess *domain.Session) error {
		return sess.RecordAnswer(answer, now)
	})
}

func (s *SessionStore) Finalize(_ context.Context, token string, version int64, result domain.ScoreResult, now time.Time) (domain.Session, error) {
	return s.mutate(token, func(sess *domain.Session) error {
		return sess.Complete(version, result, now)
	})
}

func (s *SessionStore) Abandon(_ context.Context, token string, now time.Time) (domain.Session, error) {
	return s.mutate(token, func(sess *domain.Session) error {
		return sess.Abandon(now)
	})
}

func (s *SessionStore) SettleReward(_ context.Context, token string, status domain.RewardStatus, grant *domain.RewardGrant) (domain.Session, error) {
	return s.mutate(token, func(sess *domain.Session) error {
		_, err := sess.Settle(status, grant)
		return err
	})
}

func (s *SessionStore) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	tokens := make([]string, 0, len(s.active))
	for _, token := range s.active {
		tokens = append(tokens, token)
	}
	s.mu.RUnlock()
	sort.Strings(tokens)

	expired := make([]string, 0)
	for _, token := range tokens {
		rec, ok := s.record(token)
		if !ok {
			continue
		}
		rec.mu.Lock()
		hit := !rec.session.Status.Terminal() && rec.session.Expired(now)
		rec.mu.Unlock()
		if hit {
			expired = append(expired, token)
			if limit > 0 && len(expired) == limit {
				break
			}
		}
	}
	return expired, nil
}

// mutate applies fn under the record lock. Transitions fn makes stick even
// when it returns an error, and a newly terminal session frees its slot.
func (s *SessionStore) mutate(token string, fn func(*domain.Session) error) (domain.Session, error) {
	rec, ok := s.record(token)
	if !ok {
		return domain.Session{}, domain.ErrUnknownSession
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	wasTerminal := rec.session.Status.Terminal()
	err := fn(&rec.session)
	if !wasTerminal && rec.session.Status.Terminal() {
		key := pairKey{rec.session.ParticipantID, rec.session.CampaignID}
		s.mu.Lock()
		if s.active[key] == token {
			delete(s.active, key)
		}
		s.mu.Unlock()
	}
	return rec.session.Clone(), err
}

func (s *SessionStore) record(token string) (*sessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[token]
	return rec, ok
}
