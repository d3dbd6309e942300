package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
)

// Sessions is the attempt lifecycle the transports drive.
type Sessions interface {
	Start(ctx context.Context, participantID, campaignID string) (app.StartResult, error)
	SubmitAnswer(ctx context.Context, token, questionID string, optionIDs []string, elapsedSeconds int) (app.SubmitResult, error)
	Progress(ctx context.Context, token string) (domain.Progress, error)
	Abandon(ctx context.Context, token string) (domain.Progress, error)
	Finish(ctx context.Context, token string) (app.FinishResult, error)
}

type startRequest struct {
	ParticipantID string `json:"participantId" binding:"required,max=128"`
	CampaignID    string `json:"campaignId" binding:"required,max=128"`
}

type answerRequest struct {
	QuestionID     string   `json:"questionId" binding:"required,max=128"`
	OptionIDs      []string `json:"optionIds" binding:"max=32,dive,required,max=128"`
	ElapsedSeconds int      `json:"elapsedSeconds" binding:"gte=0"`
}

// SessionHandler exposes the attempt lifecycle over REST.
type SessionHandler struct {
	sessions Sessions
	log      zerolog.Logger
}

func NewSessionHandler(sessions Sessions, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// Start handles POST /api/v1/sessions.
func (h *SessionHandler) Start(c *gin.Context) {
	var req startRequest
	if fields := bindJSON(c, &req); fields != nil {
		fail(c, http.StatusBadRequest, ErrValidation, fields)
		return
	}
	res, err := h.sessions.Start(c.Request.Context(), req.ParticipantID, req.CampaignID)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusCreated, res)
}

// SubmitAnswer handles POST /api/v1/sessions/:token/answers.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	var req answerRequest
	if fields := bindJSON(c, &req); fields != nil {
		fail(c, http.StatusBadRequest, ErrValidation, fields)
		return
	}
	res, err := h.sessions.SubmitAnswer(c.Request.Context(), c.Param("token"), req.QuestionID, req.OptionIDs, req.ElapsedSeconds)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, res)
}

// Progress handles GET /api/v1/sessions/:token/progress.
func (h *SessionHandler) Progress(c *gin.Context) {
	res, err := h.sessions.Progress(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, res)
}

// Finish handles POST /api/v1/sessions/:token/finish.
func (h *SessionHandler) Finish(c *gin.Context) {
	res, err := h.sessions.Finish(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, res)
}

// Abandon handles POST /api/v1/sessions/:token/abandon.
func (h *SessionHandler) Abandon(c *gin.Context) {
	res, err := h.sessions.Abandon(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, res)
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Str("code", string(code)).Msg("request failed")
	}
	fail(c, status, code, nil)
}
