package http

import (
	"errors"
	"net/http"

	"quiz-reward-service/internal/domain"
)

// ErrCode identifies an API error independent of its HTTP status.
type ErrCode string

const (
	ErrDuplicateActiveSession ErrCode = "DUPLICATE_ACTIVE_SESSION"
	ErrUnknownSession         ErrCode = "UNKNOWN_SESSION"
	ErrSessionTerminal        ErrCode = "SESSION_TERMINAL"
	ErrUnknownQuestion        ErrCode = "UNKNOWN_QUESTION"
	ErrInsufficientQuestions  ErrCode = "INSUFFICIENT_QUESTIONS"
	ErrCampaignNotFound       ErrCode = "CAMPAIGN_NOT_FOUND"
	ErrCampaignInactive       ErrCode = "CAMPAIGN_INACTIVE"
	ErrValidation             ErrCode = "VALIDATION_ERROR"
	ErrPersistence            ErrCode = "PERSISTENCE_FAILURE"
	ErrNotFound               ErrCode = "NOT_FOUND"
	ErrInternal               ErrCode = "INTERNAL_ERROR"
)

// Message returns the human-readable text of code.
func Message(code ErrCode) string {
	switch code {
	case ErrDuplicateActiveSession:
		return "An attempt for this campaign is already in progress."
	case ErrUnknownSession:
		return "Session not found."
	case ErrSessionTerminal:
		return "This session has already ended."
	case ErrUnknownQuestion:
		return "The question is not part of this session."
	case ErrInsufficientQuestions:
		return "The campaign does not have enough questions right now."
	case ErrCampaignNotFound:
		return "Campaign not found."
	case ErrCampaignInactive:
		return "The campaign is not accepting attempts."
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrPersistence:
		return "The service could not save your progress. Please retry."
	case ErrNotFound:
		return "Resource not found."
	default:
		return "An unexpected error occurred."
	}
}

// classify maps a use-case error onto a status and code.
func classify(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, domain.ErrDuplicateActiveSession):
		return http.StatusConflict, ErrDuplicateActiveSession
	case errors.Is(err, domain.ErrUnknownSession):
		return http.StatusNotFound, ErrUnknownSession
	case errors.Is(err, domain.ErrSessionTerminal):
		return http.StatusConflict, ErrSessionTerminal
	case errors.Is(err, domain.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity, ErrUnknownQuestion
	case errors.Is(err, domain.ErrInsufficientQuestions):
		return http.StatusUnprocessableEntity, ErrInsufficientQuestions
	case errors.Is(err, domain.ErrCampaignNotFound):
		return http.StatusNotFound, ErrCampaignNotFound
	case errors.Is(err, domain.ErrCampaignInactive):
		return http.StatusForbidden, ErrCampaignInactive
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, ErrPersistence
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}
