package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-reward-service/internal/domain"
	"quiz-reward-service/internal/infra/memory"
)

// question builds a single-select question whose correct option is "<id>-b".
func question(id string, difficulty domain.Difficulty, category string) domain.Question {
	return domain.Question{
		ID:         id,
		CampaignID: "camp-1",
		Text:       "question " + id,
		Type:       domain.QuestionSingleSelect,
		Difficulty: difficulty,
		Category:   category,
		Points:     1,
		Active:     true,
		Options: []domain.Option{
			{ID: id + "-a", Text: "wrong"},
			{ID: id + "-b", Text: "right", Correct: true},
			{ID: id + "-c", Text: "also wrong"},
		},
	}
}

func campaign(poolSize, perAttempt, passThreshold int) domain.Campaign {
	c := domain.Campaign{
		ID:                  "camp-1",
		Name:                "Test campaign",
		QuestionsPerAttempt: perAttempt,
		PassThreshold:       passThreshold,
		Active:              true,
	}
	for i := 1; i <= poolSize; i++ {
		c.Questions = append(c.Questions, question(fmt.Sprintf("q%02d", i), domain.DifficultyEasy, ""))
	}
	return c
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	service  *SessionService
	loader   *memory.StaticCampaignLoader
	repo     *memory.CampaignRepository
	sessions *memory.SessionStore
	rewards  *memory.RewardStore
	clock    *fakeClock
}

func newHarness(t *testing.T, c domain.Campaign, tiers ...domain.RewardTier) *harness {
	t.Helper()
	h := &harness{
		loader:   memory.NewStaticCampaignLoader(map[string]domain.Campaign{c.ID: c}),
		sessions: memory.NewSessionStore(),
		rewards:  memory.NewRewardStore(),
		clock:    newFakeClock(),
	}
	h.repo = memory.NewCampaignRepository(h.loader, time.Minute)
	for _, tier := range tiers {
		if err := h.rewards.PutTier(context.Background(), tier); err != nil {
			t.Fatalf("put tier: %v", err)
		}
	}
	log := zerolog.Nop()
	pool := NewQuestionPool(h.repo, rand.NewSource(42), DefaultUniformPoolFactor)
	ledger := NewRewardLedger(h.rewards, RandomCodes(DefaultCodeLength), DefaultCodeAttempts, log)
	h.service = NewSessionService(h.repo, pool, h.sessions, ledger, log, WithClock(h.clock.Now))
	return h
}

// correctAnswers returns the right option for each question of a started attempt.
func correctAnswers(res StartResult) map[string][]string {
	out := make(map[string][]string, len(res.Questions))
	for _, q := range res.Questions {
		out[q.ID] = []string{q.ID + "-b"}
	}
	return out
}
