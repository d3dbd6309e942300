package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
	"quiz-reward-service/internal/infra/memory"
)

// testCampaign has six single-select questions whose correct option is "<id>-b".
func testCampaign() domain.Campaign {
	c := domain.Campaign{
		ID:                  "camp-1",
		Name:                "HTTP campaign",
		QuestionsPerAttempt: 3,
		PassThreshold:       2,
		TimeLimit:           10 * time.Minute,
		Active:              true,
	}
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("q%d", i)
		c.Questions = append(c.Questions, domain.Question{
			ID:         id,
			CampaignID: c.ID,
			Text:       "question " + id,
			Type:       domain.QuestionSingleSelect,
			Difficulty: domain.DifficultyEasy,
			Active:     true,
			Options: []domain.Option{
				{ID: id + "-a", Text: "no"},
				{ID: id + "-b", Text: "yes", Correct: true},
			},
		})
	}
	return c
}

func newTestService(t *testing.T) *app.SessionService {
	t.Helper()
	c := testCampaign()
	repo := memory.NewCampaignRepository(memory.NewStaticCampaignLoader(map[string]domain.Campaign{c.ID: c}), time.Minute)
	rewards := memory.NewRewardStore()
	require.NoError(t, rewards.PutTier(context.Background(), domain.RewardTier{
		ID:            "tier-pass",
		CampaignID:    c.ID,
		Name:          "Passed",
		MinScore:      2,
		MaxScore:      3,
		MaxPercentage: 100,
		MaxQuantity:   5,
		Active:        true,
	}))

	log := zerolog.Nop()
	pool := app.NewQuestionPool(repo, rand.NewSource(7), app.DefaultUniformPoolFactor)
	ledger := app.NewRewardLedger(rewards, app.RandomCodes(app.DefaultCodeLength), app.DefaultCodeAttempts, log)
	return app.NewSessionService(repo, pool, memory.NewSessionStore(), ledger, log)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	router := NewRouter(newTestService(t), zerolog.Nop(), RouterConfig{Mode: gin.TestMode})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

type envelope struct {
	Data     json.RawMessage `json:"data"`
	Error    *ErrorBody      `json:"error"`
	Metadata Metadata        `json:"metadata"`
}

func doJSON(t *testing.T, method, url string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}
