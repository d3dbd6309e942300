package app

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-reward-service/internal/domain"
	"quiz-reward-service/internal/infra/memory"
)

func TestDrawReturnsDistinctActiveQuestions(t *testing.T) {
	c := campaign(30, 5, 0)
	c.Questions[0].Active = false
	c.Questions[1].Active = false
	pool := NewQuestionPool(nil, rand.NewSource(1), 3)

	for i := 0; i < 50; i++ {
		got, err := pool.Draw(c, 5)
		require.NoError(t, err)
		require.Len(t, got, 5)
		seen := map[string]bool{}
		for _, q := range got {
			assert.True(t, q.Active, "inactive question %s sampled", q.ID)
			assert.False(t, seen[q.ID], "duplicate question %s", q.ID)
			seen[q.ID] = true
		}
	}
}

func TestDrawInsufficientQuestions(t *testing.T) {
	c := campaign(4, 5, 0)
	pool := NewQuestionPool(nil, rand.NewSource(1), 3)
	_, err := pool.Draw(c, 5)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuestions)

	c.Questions[0].Active = false
	_, err = pool.Draw(c, 4)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuestions)
}

func TestDrawSmallPoolPrefersEasy(t *testing.T) {
	c := domain.Campaign{ID: "camp-1", QuestionsPerAttempt: 3, Active: true}
	c.Questions = []domain.Question{
		question("h1", domain.DifficultyHard, "x"),
		question("e1", domain.DifficultyEasy, "x"),
		question("m1", domain.DifficultyMedium, "y"),
		question("e2", domain.DifficultyEasy, "y"),
		question("h2", domain.DifficultyHard, "y"),
	}
	pool := NewQuestionPool(nil, rand.NewSource(7), 3)

	for i := 0; i < 20; i++ {
		got, err := pool.Draw(c, 3)
		require.NoError(t, err)
		ids := []string{got[0].ID, got[1].ID, got[2].ID}
		assert.ElementsMatch(t, []string{"e1", "e2", "m1"}, ids)
	}
}

func TestDrawSpreadsCategoriesWithinDifficulty(t *testing.T) {
	c := domain.Campaign{ID: "camp-1", QuestionsPerAttempt: 2, Active: true}
	c.Questions = []domain.Question{
		question("a1", domain.DifficultyEasy, "alpha"),
		question("a2", domain.DifficultyEasy, "alpha"),
		question("a3", domain.DifficultyEasy, "alpha"),
		question("b1", domain.DifficultyEasy, "beta"),
	}
	pool := NewQuestionPool(nil, rand.NewSource(3), 3)

	for i := 0; i < 20; i++ {
		got, err := pool.Draw(c, 2)
		require.NoError(t, err)
		categories := map[string]bool{got[0].Category: true, got[1].Category: true}
		assert.Len(t, categories, 2, "expected one question of each category, got %s and %s", got[0].ID, got[1].ID)
	}
}

func TestDrawLargePoolCoversWholePool(t *testing.T) {
	c := campaign(12, 3, 0)
	pool := NewQuestionPool(nil, rand.NewSource(11), 3)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got, err := pool.Draw(c, 3)
		require.NoError(t, err)
		for _, q := range got {
			seen[q.ID] = true
		}
	}
	assert.Len(t, seen, 12)
}

func TestSeededPoolsAreDeterministic(t *testing.T) {
	c := campaign(20, 5, 0)
	a := NewQuestionPool(nil, rand.NewSource(99), 3)
	b := NewQuestionPool(nil, rand.NewSource(99), 3)
	for i := 0; i < 5; i++ {
		x, _ := a.Draw(c, 5)
		y, _ := b.Draw(c, 5)
		assert.Equal(t, ids(x), ids(y))
	}
}

func TestShuffleOptionsKeepsSet(t *testing.T) {
	q := question("q1", domain.DifficultyEasy, "")
	pool := NewQuestionPool(nil, rand.NewSource(5), 3)
	got := pool.ShuffleOptions(q)
	assert.ElementsMatch(t, q.Options, got)
	assert.Equal(t, "q1-a", q.Options[0].ID, "source options must not be reordered")
}

func TestSampleLoadsCampaign(t *testing.T) {
	repo := memory.NewCampaignRepository(memory.NewStaticCampaignLoader(map[string]domain.Campaign{"camp-1": campaign(6, 2, 0)}), time.Minute)
	pool := NewQuestionPool(repo, rand.NewSource(1), 3)

	got, err := pool.Sample(context.Background(), "camp-1", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = pool.Sample(context.Background(), "nope", 2)
	assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
}

func ids(qs []domain.Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}
