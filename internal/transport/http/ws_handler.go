package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
)

const (
	msgStarted  = "started"
	msgAccepted = "answerAccepted"
	msgProgress = "progress"
	msgFinished = "finished"
	msgAbandon  = "abandoned"
	msgExpired  = "expired"
	msgError    = "error"
)

// WSHandler runs one attempt per connection: the attempt starts on connect
// (or resumes with ?sessionToken=) and the client drives it with messages.
type WSHandler struct {
	sessions Sessions
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(sessions Sessions, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range allowedOrigins {
					if strings.EqualFold(allowed, origin) {
						return true
					}
				}
				return false
			},
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID     string   `json:"questionId"`
	OptionIDs      []string `json:"optionIds"`
	ElapsedSeconds int      `json:"elapsedSeconds"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

type resumedPayload struct {
	SessionToken string          `json:"sessionToken"`
	Progress     domain.Progress `json:"progress"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the session use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("sessionToken")
	participantID := q.Get("participantId")
	campaignID := q.Get("campaignId")
	if token == "" && (participantID == "" || campaignID == "") {
		http.Error(w, "missing participantId and campaignId, or sessionToken", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		first    outboundMessage[any]
		deadline *time.Time
	)
	if token == "" {
		started, err := h.sessions.Start(ctx, participantID, campaignID)
		if err != nil {
			_ = conn.WriteJSON(errorMessage(err))
			return
		}
		token = started.SessionToken
		deadline = started.Deadline
		first = outboundMessage[any]{Type: msgStarted, Payload: started}
	} else {
		progress, err := h.sessions.Progress(ctx, token)
		if err != nil {
			_ = conn.WriteJSON(errorMessage(err))
			return
		}
		if progress.RemainingSeconds != nil && !progress.Status.Terminal() {
			at := time.Now().Add(time.Duration(*progress.RemainingSeconds) * time.Second)
			deadline = &at
		}
		first = outboundMessage[any]{Type: msgProgress, Payload: resumedPayload{SessionToken: token, Progress: progress}}
	}
	connLog := h.log.With().Str("session", token).Logger()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	timerDone := make(chan struct{})

	// Single writer: gorilla connections do not allow concurrent writes.
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range send {
			if failed {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				connLog.Debug().Err(err).Msg("ws write failed")
				failed = true
				_ = conn.Close() // unblocks the reader
			}
		}
	}()

	go func() {
		defer close(timerDone)
		if deadline == nil {
			<-closeSignals
			return
		}
		timer := time.NewTimer(time.Until(*deadline) + 100*time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
			progress, err := h.sessions.Progress(ctx, token)
			if err != nil || !progress.Expired {
				return
			}
			select {
			case send <- outboundMessage[any]{Type: msgExpired, Payload: progress}:
			case <-closeSignals:
			}
		case <-closeSignals:
		}
	}()

	send <- first

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		send <- h.handle(ctx, token, inbound)
	}

	close(closeSignals)
	<-timerDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, token string, inbound inboundMessage) outboundMessage[any] {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" {
			return outboundMessage[any]{Type: msgError, Payload: errorPayload{Code: ErrValidation, Message: "invalid answer payload"}}
		}
		res, err := h.sessions.SubmitAnswer(ctx, token, payload.QuestionID, payload.OptionIDs, payload.ElapsedSeconds)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: msgAccepted, Payload: res}
	case "progress":
		res, err := h.sessions.Progress(ctx, token)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: msgProgress, Payload: res}
	case "finish":
		res, err := h.sessions.Finish(ctx, token)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: msgFinished, Payload: res}
	case "abandon":
		res, err := h.sessions.Abandon(ctx, token)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: msgAbandon, Payload: res}
	default:
		return outboundMessage[any]{Type: msgError, Payload: errorPayload{Code: ErrValidation, Message: "unsupported message type"}}
	}
}

func errorMessage(err error) outboundMessage[any] {
	_, code := classify(err)
	return outboundMessage[any]{Type: msgError, Payload: errorPayload{Code: code, Message: Message(code)}}
}

var _ Sessions = (*app.SessionService)(nil)
