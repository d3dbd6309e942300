package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-reward-service/internal/domain"
)

const maxTxRetries = 16

// SessionStore keeps sessions in Redis so any instance can serve any token.
//
// Keys:
//
//	quiz:session:{token}                      JSON snapshot of the session
//	quiz:active:{campaignID}:{participantID}  token of the pair's open session
//	quiz:deadlines                            ZSET of open sessions by deadline (unix ms)
//
// Every mutation runs under WATCH on the session key, so two instances
// racing on one token cannot both commit a transition.
type SessionStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewSessionStore returns a store whose abandoned sessions expire after
// retention (0 keeps them). Completed sessions never expire so Finish can
// keep returning their stored result.
func NewSessionStore(client *redis.Client, retention time.Duration) *SessionStore {
	return &SessionStore{client: client, retention: retention}
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	sessionKey := s.key(session.Token)
	activeKey := s.activeKey(session.ParticipantID, session.CampaignID)

	return s.retry(ctx, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, sessionKey, activeKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return domain.ErrDuplicateActiveSession
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, sessionKey, payload, 0)
				pipe.Set(ctx, activeKey, session.Token, 0)
				if !session.Deadline.IsZero() {
					pipe.ZAdd(ctx, s.deadlinesKey(), redis.Z{Score: float64(session.Deadline.UnixMilli()), Member: session.Token})
				}
				return nil
			})
			return err
		}, sessionKey, activeKey)
	})
}

func (s *SessionStore) Get(ctx context.Context, token string) (domain.Session, error) {
	return s.read(ctx, s.client, token)
}

func (s *SessionStore) FindActive(ctx context.Context, participantID, campaignID string) (domain.Session, error) {
	token, err := s.client.Get(ctx, s.activeKey(participantID, campaignID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrUnknownSession
	}
	if err != nil {
		return domain.Session{}, err
	}
	return s.Get(ctx, token)
}

func (s *SessionStore) SaveAnswer(ctx context.Context, token string, answer domain.Answer, now time.Time) (domain.Session, error) {
	return s.mutate(ctx, token, func(sess *domain.Session) error {
		return sess.RecordAnswer(answer, now)
	})
}

func (s *SessionStore) Finalize(ctx context.Context, token string, version int64, result domain.ScoreResult, now time.Time) (domain.Session, error) {
	return s.mutate(ctx, token, func(sess *domain.Session) error {
		return sess.Complete(version, result, now)
	})
}

func (s *SessionStore) Abandon(ctx context.Context, token string, now time.Time) (domain.Session, error) {
	return s.mutate(ctx, token, func(sess *domain.Session) error {
		return sess.Abandon(now)
	})
}

func (s *SessionStore) SettleReward(ctx context.Context, token string, status domain.RewardStatus, grant *domain.RewardGrant) (domain.Session, error) {
	return s.mutate(ctx, token, func(sess *domain.Session) error {
		_, err := sess.Settle(status, grant)
		return err
	})
}

// ListExpired returns open sessions whose deadline passed, oldest first.
// Deadline entries whose session record is gone are removed on the way.
func (s *SessionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	upper := "(" + strconv.FormatInt(now.UnixMilli(), 10)
	live := make([]string, 0)
	for {
		opt := &redis.ZRangeBy{Min: "-inf", Max: upper}
		if limit > 0 {
			opt.Count = int64(limit - len(live))
		}
		tokens, err := s.client.ZRangeByScore(ctx, s.deadlinesKey(), opt).Result()
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return live, nil
		}

		pipe := s.client.Pipeline()
		exists := make([]*redis.IntCmd, len(tokens))
		for i, token := range tokens {
			exists[i] = pipe.Exists(ctx, s.key(token))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		var stale []interface{}
		for i, token := range tokens {
			if exists[i].Val() > 0 {
				live = append(live, token)
			} else {
				stale = append(stale, token)
			}
		}
		if len(stale) == 0 {
			return live, nil
		}
		if err := s.client.ZRem(ctx, s.deadlinesKey(), stale...).Err(); err != nil {
			return nil, err
		}
		if limit > 0 && len(live) >= limit {
			return live, nil
		}
	}
}

// mutate loads the session under WATCH, applies fn and writes back whatever
// state fn left, including a transition fn made before returning an error.
func (s *SessionStore) mutate(ctx context.Context, token string, fn func(*domain.Session) error) (domain.Session, error) {
	sessionKey := s.key(token)
	var (
		out    domain.Session
		result error
	)
	err := s.retry(ctx, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			sess, err := s.read(ctx, tx, token)
			if err != nil {
				return err
			}
			before := sess.Clone()
			result = fn(&sess)
			out = sess
			if !changed(before, sess) {
				return nil
			}

			payload, err := json.Marshal(sess)
			if err != nil {
				return err
			}
			closing := !before.Status.Terminal() && sess.Status.Terminal()
			activeKey := s.activeKey(sess.ParticipantID, sess.CampaignID)
			var owner string
			if closing {
				if err := tx.Watch(ctx, activeKey).Err(); err != nil {
					return err
				}
				owner, err = tx.Get(ctx, activeKey).Result()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				var ttl time.Duration = redis.KeepTTL
				if sess.Status == domain.SessionAbandoned && s.retention > 0 {
					ttl = s.retention
				}
				pipe.Set(ctx, sessionKey, payload, ttl)
				if closing {
					pipe.ZRem(ctx, s.deadlinesKey(), token)
					if owner == token {
						pipe.Del(ctx, activeKey)
					}
				}
				return nil
			})
			return err
		}, sessionKey)
	})
	if err != nil {
		return domain.Session{}, err
	}
	return out, result
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *SessionStore) read(ctx context.Context, c getter, token string) (domain.Session, error) {
	raw, err := c.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrUnknownSession
	}
	if err != nil {
		return domain.Session{}, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.Session{}, err
	}
	if sess.Answers == nil {
		sess.Answers = map[string]domain.Answer{}
	}
	return sess, nil
}

// retry repeats fn while optimistic transactions lose their race.
func (s *SessionStore) retry(ctx context.Context, fn func() error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return redis.TxFailedErr
}

func changed(before, after domain.Session) bool {
	return before.Version != after.Version ||
		before.Status != after.Status ||
		before.RewardSettled != after.RewardSettled
}

func (s *SessionStore) key(token string) string {
	return "quiz:session:" + token
}

func (s *SessionStore) activeKey(participantID, campaignID string) string {
	return "quiz:active:" + campaignID + ":" + participantID
}

func (s *SessionStore) deadlinesKey() string {
	return "quiz:deadlines"
}
