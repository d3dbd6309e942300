package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
)

func startSession(t *testing.T, baseURL, participant string) app.StartResult {
	t.Helper()
	status, env := doJSON(t, http.MethodPost, baseURL+"/api/v1/sessions", map[string]string{
		"participantId": participant,
		"campaignId":    "camp-1",
	})
	require.Equal(t, http.StatusCreated, status)
	require.Nil(t, env.Error)

	var res app.StartResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	status, env := doJSON(t, http.MethodGet, server.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
	assert.NotEmpty(t, env.Metadata.RequestID)
	assert.NotEmpty(t, env.Metadata.Timestamp)
}

func TestStartHidesAnswersAndRejectsDuplicate(t *testing.T) {
	server := newTestServer(t)
	res := startSession(t, server.URL, "alice")

	assert.NotEmpty(t, res.SessionToken)
	assert.Len(t, res.Questions, 3)
	assert.NotNil(t, res.Deadline)

	status, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions", map[string]string{
		"participantId": "alice",
		"campaignId":    "camp-1",
	})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrDuplicateActiveSession, env.Error.Code)
}

func TestStartValidation(t *testing.T) {
	server := newTestServer(t)
	status, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions", map[string]string{
		"campaignId": "camp-1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "participantId")
}

func TestStartUnknownCampaign(t *testing.T) {
	server := newTestServer(t)
	status, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions", map[string]string{
		"participantId": "bob",
		"campaignId":    "nope",
	})
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCampaignNotFound, env.Error.Code)
}

func TestAnswerFinishFlow(t *testing.T) {
	server := newTestServer(t)
	res := startSession(t, server.URL, "carol")
	base := server.URL + "/api/v1/sessions/" + res.SessionToken

	for _, q := range res.Questions {
		status, env := doJSON(t, http.MethodPost, base+"/answers", map[string]any{
			"questionId":     q.ID,
			"optionIds":      []string{q.ID + "-b"},
			"elapsedSeconds": 4,
		})
		require.Equal(t, http.StatusOK, status, "answer %s", q.ID)
		require.Nil(t, env.Error)
	}

	status, env := doJSON(t, http.MethodPost, base+"/answers", map[string]any{
		"questionId": "not-in-session",
		"optionIds":  []string{"x"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrUnknownQuestion, env.Error.Code)

	status, env = doJSON(t, http.MethodGet, base+"/progress", nil)
	require.Equal(t, http.StatusOK, status)
	var progress domain.Progress
	require.NoError(t, json.Unmarshal(env.Data, &progress))
	assert.Equal(t, 3, progress.Answered)
	assert.Equal(t, 3, progress.Total)

	status, first := doJSON(t, http.MethodPost, base+"/finish", nil)
	require.Equal(t, http.StatusOK, status)
	var result app.FinishResult
	require.NoError(t, json.Unmarshal(first.Data, &result))
	assert.Equal(t, 3, result.Score)
	assert.True(t, result.Passed)
	assert.Equal(t, domain.RewardGranted, result.RewardStatus)
	require.NotNil(t, result.Reward)
	assert.Equal(t, "tier-pass", result.Reward.TierID)

	status, second := doJSON(t, http.MethodPost, base+"/finish", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, string(first.Data), string(second.Data))

	status, env = doJSON(t, http.MethodPost, base+"/answers", map[string]any{
		"questionId": res.Questions[0].ID,
		"optionIds":  []string{res.Questions[0].ID + "-a"},
	})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrSessionTerminal, env.Error.Code)
}

func TestAbandonThenFinish(t *testing.T) {
	server := newTestServer(t)
	res := startSession(t, server.URL, "dave")
	base := server.URL + "/api/v1/sessions/" + res.SessionToken

	status, env := doJSON(t, http.MethodPost, base+"/abandon", nil)
	require.Equal(t, http.StatusOK, status)
	var progress domain.Progress
	require.NoError(t, json.Unmarshal(env.Data, &progress))
	assert.Equal(t, domain.SessionAbandoned, progress.Status)

	status, env = doJSON(t, http.MethodPost, base+"/finish", nil)
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrSessionTerminal, env.Error.Code)

	// the slot is free again
	startSession(t, server.URL, "dave")
}

func TestUnknownTokenAndRoute(t *testing.T) {
	server := newTestServer(t)

	status, env := doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions/missing/progress", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrUnknownSession, env.Error.Code)

	status, env = doJSON(t, http.MethodGet, server.URL+"/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrNotFound, env.Error.Code)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   ErrCode
	}{
		{domain.ErrDuplicateActiveSession, http.StatusConflict, ErrDuplicateActiveSession},
		{domain.ErrInsufficientQuestions, http.StatusUnprocessableEntity, ErrInsufficientQuestions},
		{domain.ErrCampaignInactive, http.StatusForbidden, ErrCampaignInactive},
		{domain.Persistence("save", assert.AnError), http.StatusServiceUnavailable, ErrPersistence},
		{assert.AnError, http.StatusInternalServerError, ErrInternal},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
