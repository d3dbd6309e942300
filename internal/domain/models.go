package domain

import (
	"fmt"
	"sort"
	"time"
)

// QuestionType describes how many options a participant may pick.
type QuestionType string

const (
	QuestionSingleSelect QuestionType = "single_select"
	QuestionMultiSelect  QuestionType = "multi_select"
	QuestionTrueFalse    QuestionType = "true_false"
)

// Difficulty orders questions for the small-pool sampler (easy first).
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Rank returns the sampling order of a difficulty; unknown values sort last.
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyEasy:
		return 0
	case DifficultyMedium:
		return 1
	case DifficultyHard:
		return 2
	default:
		return 3
	}
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Question is a campaign question with its ground truth.
type Question struct {
	ID         string       `json:"id" yaml:"id"`
	CampaignID string       `json:"campaignId" yaml:"campaign_id"`
	Text       string       `json:"text" yaml:"text"`
	Type       QuestionType `json:"type" yaml:"type"`
	Difficulty Difficulty   `json:"difficulty" yaml:"difficulty"`
	Category   string       `json:"category,omitempty" yaml:"category"`
	Points     int          `json:"points" yaml:"points"` // defaults to 1 if zero
	Active     bool         `json:"active" yaml:"active"`
	Options    []Option     `json:"options" yaml:"options"`
}

// PointValue returns the points awarded for a fully correct answer.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// CorrectOptionIDs returns the sorted IDs of the correct options.
func (q Question) CorrectOptionIDs() []string {
	ids := make([]string, 0, len(q.Options))
	for _, opt := range q.Options {
		if opt.Correct {
			ids = append(ids, opt.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Validate checks the option invariants of an active question.
func (q Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: question without id", ErrInvalidCatalog)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: question %s has %d options", ErrInvalidCatalog, q.ID, len(q.Options))
	}
	seen := make(map[string]struct{}, len(q.Options))
	for _, opt := range q.Options {
		if opt.ID == "" {
			return fmt.Errorf("%w: question %s has an option without id", ErrInvalidCatalog, q.ID)
		}
		if _, dup := seen[opt.ID]; dup {
			return fmt.Errorf("%w: question %s repeats option %s", ErrInvalidCatalog, q.ID, opt.ID)
		}
		seen[opt.ID] = struct{}{}
	}
	correct := len(q.CorrectOptionIDs())
	if correct == 0 {
		return fmt.Errorf("%w: question %s has no correct option", ErrInvalidCatalog, q.ID)
	}
	switch q.Type {
	case QuestionSingleSelect:
		if correct != 1 {
			return fmt.Errorf("%w: single-select question %s has %d correct options", ErrInvalidCatalog, q.ID, correct)
		}
	case QuestionTrueFalse:
		if len(q.Options) != 2 || correct != 1 {
			return fmt.Errorf("%w: true/false question %s must have two options and one correct", ErrInvalidCatalog, q.ID)
		}
	case QuestionMultiSelect:
	default:
		return fmt.Errorf("%w: question %s has unknown type %q", ErrInvalidCatalog, q.ID, q.Type)
	}
	return nil
}

// Campaign is a quiz campaign: its settings and question pool.
type Campaign struct {
	ID                  string        `json:"id" yaml:"id"`
	Name                string        `json:"name" yaml:"name"`
	StartsAt            time.Time     `json:"startsAt" yaml:"starts_at"`
	EndsAt              time.Time     `json:"endsAt" yaml:"ends_at"`
	QuestionsPerAttempt int           `json:"questionsPerAttempt" yaml:"questions_per_attempt"`
	TimeLimit           time.Duration `json:"timeLimit" yaml:"time_limit"` // zero means no limit
	PassThreshold       int           `json:"passThreshold" yaml:"pass_threshold"`
	Active              bool          `json:"active" yaml:"active"`
	Questions           []Question    `json:"questions" yaml:"questions"`
}

// AcceptsAttempts reports whether a new session may start at now.
func (c Campaign) AcceptsAttempts(now time.Time) bool {
	if !c.Active {
		return false
	}
	if !c.StartsAt.IsZero() && now.Before(c.StartsAt) {
		return false
	}
	if !c.EndsAt.IsZero() && now.After(c.EndsAt) {
		return false
	}
	return true
}

// ActiveQuestions returns the questions eligible for sampling.
func (c Campaign) ActiveQuestions() []Question {
	out := make([]Question, 0, len(c.Questions))
	for _, q := range c.Questions {
		if q.Active {
			out = append(out, q)
		}
	}
	return out
}

// Validate checks every active question of the campaign.
func (c Campaign) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: campaign without id", ErrInvalidCatalog)
	}
	if c.QuestionsPerAttempt <= 0 {
		return fmt.Errorf("%w: campaign %s needs a positive questions-per-attempt", ErrInvalidCatalog, c.ID)
	}
	for _, q := range c.ActiveQuestions() {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SessionStatus enumerates attempt states. Transitions only move forward.
type SessionStatus string

const (
	SessionStarted    SessionStatus = "started"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAbandoned
}

// FrozenQuestion is the part of a question a session keeps for scoring.
// It is captured at start so later pool edits cannot change the outcome.
type FrozenQuestion struct {
	ID               string       `json:"id"`
	Type             QuestionType `json:"type"`
	Points           int          `json:"points"`
	CorrectOptionIDs []string     `json:"correctOptionIds"`
}

// Freeze captures the scoring view of a question.
func Freeze(q Question) FrozenQuestion {
	return FrozenQuestion{
		ID:               q.ID,
		Type:             q.Type,
		Points:           q.PointValue(),
		CorrectOptionIDs: q.CorrectOptionIDs(),
	}
}

// Answer is the latest submission for one question.
type Answer struct {
	QuestionID     string    `json:"questionId"`
	OptionIDs      []string  `json:"optionIds"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// RewardStatus tells why a finished session did or did not get a grant.
type RewardStatus string

const (
	RewardGranted        RewardStatus = "granted"
	RewardExhausted      RewardStatus = "exhausted"
	RewardNoMatchingTier RewardStatus = "no_matching_tier"
	RewardNotPassed      RewardStatus = "not_passed"
)

// QuestionDetail is the per-question outcome of a scored session.
type QuestionDetail struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds"`
	CorrectOptionIDs  []string `json:"correctOptionIds"`
	Correct           bool     `json:"correct"`
	Points            int      `json:"points"`
	Awarded           int      `json:"awarded"`
	ElapsedSeconds    int      `json:"elapsedSeconds"`
}

// ScoreResult is the outcome of scoring a session.
type ScoreResult struct {
	Score        int              `json:"score"`
	MaxScore     int              `json:"maxScore"`
	CorrectCount int              `json:"correctCount"`
	Percentage   float64          `json:"percentage"`
	Passed       bool             `json:"passed"`
	Details      []QuestionDetail `json:"perQuestionDetail"`
}

// RewardTier is a range-gated prize with a quantity cap (0 = unlimited).
type RewardTier struct {
	ID            string  `json:"id" yaml:"id"`
	CampaignID    string  `json:"campaignId" yaml:"campaign_id"`
	Name          string  `json:"name" yaml:"name"`
	MinScore      int     `json:"minScore" yaml:"min_score"`
	MaxScore      int     `json:"maxScore" yaml:"max_score"`
	MinPercentage float64 `json:"minPercentage" yaml:"min_percentage"`
	MaxPercentage float64 `json:"maxPercentage" yaml:"max_percentage"`
	MaxQuantity   int     `json:"maxQuantity" yaml:"max_quantity"`
	IssuedCount   int     `json:"issuedCount" yaml:"issued_count"`
	Active        bool    `json:"active" yaml:"active"`
}

// Matches reports whether both inclusive ranges contain the inputs.
func (t RewardTier) Matches(score int, percentage float64) bool {
	return score >= t.MinScore && score <= t.MaxScore &&
		percentage >= t.MinPercentage && percentage <= t.MaxPercentage
}

// WithDefaultRanges returns t with an unset percentage range (both bounds
// zero) widened to 0-100.
func (t RewardTier) WithDefaultRanges() RewardTier {
	if t.MinPercentage == 0 && t.MaxPercentage == 0 {
		t.MaxPercentage = 100
	}
	return t
}

// Unlimited reports whether the tier has no quantity cap.
func (t RewardTier) Unlimited() bool {
	return t.MaxQuantity == 0
}

// RewardGrant records a reward issued to a session.
type RewardGrant struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	TierID     string    `json:"tierId"`
	CampaignID string    `json:"campaignId"`
	Code       string    `json:"code"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// Session is one participant's attempt at a campaign.
type Session struct {
	Token         string            `json:"token"`
	ParticipantID string            `json:"participantId"`
	CampaignID    string            `json:"campaignId"`
	Questions     []FrozenQuestion  `json:"questions"`
	PassThreshold int               `json:"passThreshold"`
	Answers       map[string]Answer `json:"answers"`
	Version       int64             `json:"version"`
	Status        SessionStatus     `json:"status"`
	StartedAt     time.Time         `json:"startedAt"`
	Deadline      time.Time         `json:"deadline"` // zero means no limit
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
	Result        *ScoreResult      `json:"result,omitempty"`
	RewardSettled bool              `json:"rewardSettled"`
	RewardStatus  RewardStatus      `json:"rewardStatus,omitempty"`
	Reward        *RewardGrant      `json:"reward,omitempty"`
}

// QuestionIDs returns the frozen question order.
func (s Session) QuestionIDs() []string {
	ids := make([]string, len(s.Questions))
	for i, q := range s.Questions {
		ids[i] = q.ID
	}
	return ids
}

// HasQuestion reports whether id belongs to the frozen question list.
func (s Session) HasQuestion(id string) bool {
	for _, q := range s.Questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

// Expired reports whether the time budget ran out at now.
func (s Session) Expired(now time.Time) bool {
	return !s.Deadline.IsZero() && now.After(s.Deadline)
}

// Progress summarizes how far an attempt went.
type Progress struct {
	Answered         int           `json:"answered"`
	Total            int           `json:"total"`
	Status           SessionStatus `json:"status"`
	RemainingSeconds *int          `json:"remainingSeconds,omitempty"`
	Expired          bool          `json:"expired"`
}

// ProgressAt derives the progress view of s at now.
func (s Session) ProgressAt(now time.Time) Progress {
	p := Progress{
		Answered: len(s.Answers),
		Total:    len(s.Questions),
		Status:   s.Status,
	}
	if !s.Deadline.IsZero() {
		remaining := 0
		if !s.Status.Terminal() && now.Before(s.Deadline) {
			remaining = int(s.Deadline.Sub(now).Seconds())
		}
		p.RemainingSeconds = &remaining
		p.Expired = !s.Status.Terminal() && s.Expired(now)
	}
	return p
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s Session) Clone() Session {
	out := s
	out.Questions = make([]FrozenQuestion, len(s.Questions))
	for i, q := range s.Questions {
		q.CorrectOptionIDs = append([]string(nil), q.CorrectOptionIDs...)
		out.Questions[i] = q
	}
	out.Answers = make(map[string]Answer, len(s.Answers))
	for k, a := range s.Answers {
		a.OptionIDs = append([]string(nil), a.OptionIDs...)
		out.Answers[k] = a
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		out.CompletedAt = &at
	}
	if s.Result != nil {
		r := *s.Result
		r.Details = append([]QuestionDetail(nil), s.Result.Details...)
		out.Result = &r
	}
	if s.Reward != nil {
		g := *s.Reward
		out.Reward = &g
	}
	return out
}
