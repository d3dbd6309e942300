package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"quiz-reward-service/internal/domain"
)

// DefaultFinalizeAttempts bounds rescoring when answers race with Finish.
const DefaultFinalizeAttempts = 3

// PublicOption is an option as shown to a participant.
type PublicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PublicQuestion is a question without its correctness flags.
type PublicQuestion struct {
	ID         string              `json:"id"`
	Text       string              `json:"text"`
	Type       domain.QuestionType `json:"type"`
	Difficulty domain.Difficulty   `json:"difficulty"`
	Category   string              `json:"category,omitempty"`
	Points     int                 `json:"points"`
	Options    []PublicOption      `json:"options"`
}

// StartResult is returned to the participant when an attempt begins.
type StartResult struct {
	SessionToken string           `json:"sessionToken"`
	CampaignID   string           `json:"campaignId"`
	Questions    []PublicQuestion `json:"questions"`
	StartedAt    time.Time        `json:"startedAt"`
	Deadline     *time.Time       `json:"deadline,omitempty"`
}

// SubmitResult acknowledges an accepted answer.
type SubmitResult struct {
	Accepted bool            `json:"accepted"`
	Progress domain.Progress `json:"progress"`
}

// FinishResult is the final outcome of an attempt. It is rebuilt from the
// stored session on every call so repeated calls return identical output.
type FinishResult struct {
	SessionToken string `json:"sessionToken"`
	domain.ScoreResult
	RewardStatus domain.RewardStatus `json:"rewardStatus"`
	Reward       *domain.RewardGrant `json:"reward,omitempty"`
	CompletedAt  time.Time           `json:"completedAt"`
}

// Option customizes a SessionService.
type Option func(*SessionService)

// WithClock swaps the time source; tests use it for deterministic deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithTokenGenerator swaps how opaque session tokens are minted.
func WithTokenGenerator(next func() string) Option {
	return func(s *SessionService) { s.newToken = next }
}

// WithFinalizeAttempts sets how often Finish rescores after a version conflict.
func WithFinalizeAttempts(n int) Option {
	return func(s *SessionService) {
		if n > 0 {
			s.finalizeAttempts = n
		}
	}
}

// SessionService coordinates start, answer and finish of quiz attempts.
type SessionService struct {
	campaigns CampaignRepository
	pool      *QuestionPool
	sessions  SessionStore
	ledger    *RewardLedger
	log       zerolog.Logger

	now              func() time.Time
	newToken         func() string
	finalizeAttempts int
	finishing        singleflight.Group
}

func NewSessionService(campaigns CampaignRepository, pool *QuestionPool, sessions SessionStore, ledger *RewardLedger, log zerolog.Logger, opts ...Option) *SessionService {
	s := &SessionService{
		campaigns:        campaigns,
		pool:             pool,
		sessions:         sessions,
		ledger:           ledger,
		log:              log.With().Str("component", "session_service").Logger(),
		now:              time.Now,
		newToken:         uuid.NewString,
		finalizeAttempts: DefaultFinalizeAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start samples and freezes the questions of a new attempt.
func (s *SessionService) Start(ctx context.Context, participantID, campaignID string) (StartResult, error) {
	campaign, err := s.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) || errors.Is(err, domain.ErrInvalidCatalog) {
			return StartResult{}, err
		}
		return StartResult{}, domain.Persistence("load campaign", err)
	}

	now := s.now()
	if !campaign.AcceptsAttempts(now) {
		return StartResult{}, domain.ErrCampaignInactive
	}

	if err := s.releaseStaleActive(ctx, participantID, campaignID, now); err != nil {
		return StartResult{}, err
	}

	questions, err := s.pool.Draw(campaign, campaign.QuestionsPerAttempt)
	if err != nil {
		return StartResult{}, err
	}

	session := domain.Session{
		Token:         s.newToken(),
		ParticipantID: participantID,
		CampaignID:    campaignID,
		Questions:     make([]domain.FrozenQuestion, len(questions)),
		PassThreshold: campaign.PassThreshold,
		Answers:       map[string]domain.Answer{},
		Status:        domain.SessionStarted,
		StartedAt:     now.UTC(),
	}
	if campaign.TimeLimit > 0 {
		session.Deadline = now.Add(campaign.TimeLimit).UTC()
	}
	for i, q := range questions {
		session.Questions[i] = domain.Freeze(q)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, domain.ErrDuplicateActiveSession) {
			return StartResult{}, err
		}
		return StartResult{}, domain.Persistence("create session", err)
	}

	s.log.Info().
		Str("session", session.Token).
		Str("participant", participantID).
		Str("campaign", campaignID).
		Int("questions", len(questions)).
		Msg("session started")

	result := StartResult{
		SessionToken: session.Token,
		CampaignID:   campaignID,
		Questions:    make([]PublicQuestion, len(questions)),
		StartedAt:    session.StartedAt,
	}
	if !session.Deadline.IsZero() {
		deadline := session.Deadline
		result.Deadline = &deadline
	}
	for i, q := range questions {
		result.Questions[i] = s.publicQuestion(q)
	}
	return result, nil
}

// releaseStaleActive abandons an expired active session of the pair, or
// reports a duplicate when the existing one is still running.
func (s *SessionService) releaseStaleActive(ctx context.Context, participantID, campaignID string, now time.Time) error {
	existing, err := s.sessions.FindActive(ctx, participantID, campaignID)
	if errors.Is(err, domain.ErrUnknownSession) {
		return nil
	}
	if err != nil {
		return domain.Persistence("find active session", err)
	}
	if !existing.Expired(now) {
		return domain.ErrDuplicateActiveSession
	}
	if _, err := s.sessions.Abandon(ctx, existing.Token, now); err != nil && !errors.Is(err, domain.ErrSessionTerminal) {
		return domain.Persistence("abandon expired session", err)
	}
	s.log.Info().Str("session", existing.Token).Msg("expired session abandoned on restart")
	return nil
}

// SubmitAnswer upserts the answer of one frozen question. Resubmission overwrites.
func (s *SessionService) SubmitAnswer(ctx context.Context, token, questionID string, optionIDs []string, elapsedSeconds int) (SubmitResult, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return SubmitResult{}, err
	}
	now := s.now()
	if session.Status.Terminal() {
		return SubmitResult{}, domain.ErrSessionTerminal
	}
	if session.Expired(now) {
		return SubmitResult{}, s.expire(ctx, token, now)
	}
	if !session.HasQuestion(questionID) {
		return SubmitResult{}, domain.ErrUnknownQuestion
	}
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}

	answer := domain.Answer{
		QuestionID:     questionID,
		OptionIDs:      normalizeOptionIDs(optionIDs),
		ElapsedSeconds: elapsedSeconds,
		SubmittedAt:    now.UTC(),
	}
	updated, err := s.sessions.SaveAnswer(ctx, token, answer, now)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionExpired):
		return SubmitResult{}, s.expire(ctx, token, now)
	case errors.Is(err, domain.ErrSessionTerminal), errors.Is(err, domain.ErrUnknownSession):
		return SubmitResult{}, err
	default:
		return SubmitResult{}, domain.Persistence("save answer", err)
	}

	return SubmitResult{Accepted: true, Progress: updated.ProgressAt(now)}, nil
}

// Progress reports answered/total without changing the session.
func (s *SessionService) Progress(ctx context.Context, token string) (domain.Progress, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return domain.Progress{}, err
	}
	return session.ProgressAt(s.now()), nil
}

// Abandon ends an active session without scoring it.
func (s *SessionService) Abandon(ctx context.Context, token string) (domain.Progress, error) {
	now := s.now()
	session, err := s.sessions.Abandon(ctx, token, now)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnknownSession), errors.Is(err, domain.ErrSessionTerminal):
		return domain.Progress{}, err
	default:
		return domain.Progress{}, domain.Persistence("abandon session", err)
	}
	s.log.Info().Str("session", token).Msg("session abandoned")
	return session.ProgressAt(now), nil
}

// Finish scores the session, completes it and allocates a reward once.
//
// Calls on an already completed session return the stored outcome; calls on
// an abandoned session fail with ErrSessionTerminal. Concurrent calls on one
// token in this process share a single execution; across processes the
// store's status compare-and-set picks the only winner. The shared execution
// is detached from the first caller's cancellation.
func (s *SessionService) Finish(ctx context.Context, token string) (FinishResult, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.finishing.Do(token, func() (interface{}, error) {
		return s.finish(shared, token)
	})
	if err != nil {
		return FinishResult{}, err
	}
	return v.(FinishResult), nil
}

func (s *SessionService) finish(ctx context.Context, token string) (FinishResult, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return FinishResult{}, err
	}

	for attempt := 0; ; attempt++ {
		switch session.Status {
		case domain.SessionCompleted:
			return s.settle(ctx, session)
		case domain.SessionAbandoned:
			return FinishResult{}, domain.ErrSessionTerminal
		}

		result := Score(session)
		finalized, err := s.sessions.Finalize(ctx, token, session.Version, result, s.now())
		switch {
		case err == nil:
			s.log.Info().
				Str("session", token).
				Int("score", result.Score).
				Int("correct", result.CorrectCount).
				Float64("percentage", result.Percentage).
				Bool("passed", result.Passed).
				Msg("session completed")
			return s.settle(ctx, finalized)
		case errors.Is(err, domain.ErrSessionExpired):
			s.log.Info().Str("session", token).Msg("finish after deadline, session abandoned")
			return FinishResult{}, domain.ErrSessionTerminal
		case errors.Is(err, domain.ErrSessionTerminal):
			// Another instance won; its outcome is in finalized.
			session = finalized
		case errors.Is(err, domain.ErrVersionConflict):
			if attempt+1 >= s.finalizeAttempts {
				return FinishResult{}, domain.Persistence("finalize session", fmt.Errorf("answers kept changing after %d attempts", s.finalizeAttempts))
			}
			session = finalized
		case errors.Is(err, domain.ErrUnknownSession):
			return FinishResult{}, err
		default:
			return FinishResult{}, domain.Persistence("finalize session", err)
		}
	}
}

// settle allocates the reward of a completed session unless already recorded.
// Allocation is idempotent per session, so a retry after a crash between
// Finalize and SettleReward cannot issue a second grant.
func (s *SessionService) settle(ctx context.Context, session domain.Session) (FinishResult, error) {
	if session.RewardSettled {
		return finishView(session), nil
	}
	if session.Result == nil {
		return FinishResult{}, domain.Persistence("settle reward", errors.New("completed session without result"))
	}

	status := domain.RewardNotPassed
	var grant *domain.RewardGrant
	if session.Result.Passed {
		alloc, err := s.ledger.Allocate(ctx, session.CampaignID, session.Token, session.Result.Score, session.Result.Percentage)
		if err != nil {
			s.log.Error().Err(err).Str("session", session.Token).Msg("reward allocation failed")
			return FinishResult{}, domain.Persistence("allocate reward", err)
		}
		status, grant = alloc.Status, alloc.Grant
	}

	settled, err := s.sessions.SettleReward(ctx, session.Token, status, grant)
	if err != nil {
		s.log.Error().Err(err).Str("session", session.Token).Msg("settle reward failed")
		return FinishResult{}, domain.Persistence("settle reward", err)
	}
	return finishView(settled), nil
}

func (s *SessionService) load(ctx context.Context, token string) (domain.Session, error) {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSession) {
			return domain.Session{}, err
		}
		return domain.Session{}, domain.Persistence("load session", err)
	}
	return session, nil
}

// expire abandons a session found past its deadline and reports it terminal.
func (s *SessionService) expire(ctx context.Context, token string, now time.Time) error {
	if _, err := s.sessions.Abandon(ctx, token, now); err != nil && !errors.Is(err, domain.ErrSessionTerminal) {
		return domain.Persistence("abandon expired session", err)
	}
	s.log.Info().Str("session", token).Msg("session expired")
	return domain.ErrSessionTerminal
}

func (s *SessionService) publicQuestion(q domain.Question) PublicQuestion {
	opts := s.pool.ShuffleOptions(q)
	out := PublicQuestion{
		ID:         q.ID,
		Text:       q.Text,
		Type:       q.Type,
		Difficulty: q.Difficulty,
		Category:   q.Category,
		Points:     q.PointValue(),
		Options:    make([]PublicOption, len(opts)),
	}
	for i, o := range opts {
		out.Options[i] = PublicOption{ID: o.ID, Text: o.Text}
	}
	return out
}

func finishView(session domain.Session) FinishResult {
	out := FinishResult{
		SessionToken: session.Token,
		RewardStatus: session.RewardStatus,
		Reward:       session.Reward,
	}
	if session.Result != nil {
		out.ScoreResult = *session.Result
	}
	if session.CompletedAt != nil {
		out.CompletedAt = *session.CompletedAt
	}
	return out
}
