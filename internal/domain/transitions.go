package domain

import "time"

// The methods below are the only way a store mutates a session, so every
// backend applies the same forward-only state machine.

// RecordAnswer stores answer as the latest submission for its question.
func (s *Session) RecordAnswer(answer Answer, now time.Time) error {
	if s.Status.Terminal() {
		return ErrSessionTerminal
	}
	if s.Expired(now) {
		return ErrSessionExpired
	}
	if s.Answers == nil {
		s.Answers = make(map[string]Answer)
	}
	answer.OptionIDs = append([]string(nil), answer.OptionIDs...)
	s.Answers[answer.QuestionID] = answer
	s.Version++
	if s.Status == SessionStarted {
		s.Status = SessionInProgress
	}
	return nil
}

// Complete records result if the session is still at version. A session
// past its deadline is abandoned instead and ErrSessionExpired is returned;
// the caller must persist that transition too.
func (s *Session) Complete(version int64, result ScoreResult, now time.Time) error {
	if s.Status.Terminal() {
		return ErrSessionTerminal
	}
	if s.Expired(now) {
		s.close(SessionAbandoned, now)
		return ErrSessionExpired
	}
	if s.Version != version {
		return ErrVersionConflict
	}
	result.Details = append([]QuestionDetail(nil), result.Details...)
	s.Result = &result
	s.close(SessionCompleted, now)
	return nil
}

// Abandon closes a non-terminal session without a result.
func (s *Session) Abandon(now time.Time) error {
	if s.Status.Terminal() {
		return ErrSessionTerminal
	}
	s.close(SessionAbandoned, now)
	return nil
}

// Settle records the reward outcome of a completed session once. Later
// calls keep the first outcome and report changed=false.
func (s *Session) Settle(status RewardStatus, grant *RewardGrant) (changed bool, err error) {
	if s.Status != SessionCompleted {
		return false, ErrSessionTerminal
	}
	if s.RewardSettled {
		return false, nil
	}
	s.RewardSettled = true
	s.RewardStatus = status
	if grant != nil {
		g := *grant
		s.Reward = &g
	}
	return true, nil
}

func (s *Session) close(status SessionStatus, now time.Time) {
	at := now.UTC()
	s.Status = status
	s.CompletedAt = &at
}
