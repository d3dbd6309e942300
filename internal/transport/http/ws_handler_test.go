package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-reward-service/internal/app"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWS(t *testing.T, serverURL, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "payload": payload}))
}

func TestWebSocketAttemptFlow(t *testing.T) {
	server := newTestServer(t)
	conn := dialWS(t, server.URL, "participantId=erin&campaignId=camp-1")

	msg := readMessage(t, conn)
	require.Equal(t, msgStarted, msg.Type)
	var started app.StartResult
	require.NoError(t, json.Unmarshal(msg.Payload, &started))
	require.Len(t, started.Questions, 3)

	for _, q := range started.Questions {
		sendMessage(t, conn, "answer", map[string]any{"questionId": q.ID, "optionIds": []string{q.ID + "-b"}, "elapsedSeconds": 2})
		msg = readMessage(t, conn)
		require.Equal(t, msgAccepted, msg.Type, string(msg.Payload))
	}

	sendMessage(t, conn, "shout", nil)
	msg = readMessage(t, conn)
	require.Equal(t, msgError, msg.Type)
	var errBody errorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &errBody))
	assert.Equal(t, ErrValidation, errBody.Code)

	sendMessage(t, conn, "finish", nil)
	msg = readMessage(t, conn)
	require.Equal(t, msgFinished, msg.Type)
	var result app.FinishResult
	require.NoError(t, json.Unmarshal(msg.Payload, &result))
	assert.Equal(t, 3, result.Score)
	assert.True(t, result.Passed)
	require.NotNil(t, result.Reward)
}

func TestWebSocketResume(t *testing.T) {
	server := newTestServer(t)
	res := startSession(t, server.URL, "frank")

	conn := dialWS(t, server.URL, "sessionToken="+res.SessionToken)
	msg := readMessage(t, conn)
	require.Equal(t, msgProgress, msg.Type)
	var resumed resumedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &resumed))
	assert.Equal(t, res.SessionToken, resumed.SessionToken)
	assert.Equal(t, 0, resumed.Progress.Answered)

	sendMessage(t, conn, "abandon", nil)
	msg = readMessage(t, conn)
	assert.Equal(t, msgAbandon, msg.Type)
}

func TestWebSocketDuplicateStartReportsError(t *testing.T) {
	server := newTestServer(t)
	startSession(t, server.URL, "gina")

	conn := dialWS(t, server.URL, "participantId=gina&campaignId=camp-1")
	msg := readMessage(t, conn)
	require.Equal(t, msgError, msg.Type)
	var errBody errorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &errBody))
	assert.Equal(t, ErrDuplicateActiveSession, errBody.Code)
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws?participantId=only")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
