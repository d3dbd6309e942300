package domain

import "errors"

var (
	// ErrDuplicateActiveSession is returned when the participant already has a non-terminal session for the campaign.
	ErrDuplicateActiveSession = errors.New("active session already exists")
	// ErrUnknownSession is returned when no session matches the token.
	ErrUnknownSession = errors.New("session not found")
	// ErrSessionTerminal is returned when the session is already completed or abandoned.
	ErrSessionTerminal = errors.New("session is terminal")
	// ErrUnknownQuestion indicates the question is not part of the session's frozen list.
	ErrUnknownQuestion = errors.New("question not in session")
	// ErrInsufficientQuestions indicates the pool cannot fill an attempt.
	ErrInsufficientQuestions = errors.New("insufficient active questions")
	// ErrAllocationExhausted means a matching tier has no units left. Informational.
	ErrAllocationExhausted = errors.New("reward allocation exhausted")
	// ErrPersistence marks a storage-layer fault.
	ErrPersistence = errors.New("persistence failure")

	// ErrCampaignNotFound indicates the campaign content could not be loaded.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrCampaignInactive indicates the campaign does not accept attempts right now.
	ErrCampaignInactive = errors.New("campaign not accepting attempts")
	// ErrInvalidCatalog indicates malformed campaign content.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// Store-level outcomes; the app layer translates them before returning.
	ErrSessionExpired  = errors.New("session time limit exceeded")
	ErrVersionConflict = errors.New("session changed concurrently")
	ErrCodeTaken       = errors.New("reward code already issued")
	ErrGrantNotFound   = errors.New("reward grant not found")
)

// PersistenceError wraps a storage fault without exposing driver text in Error().
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return ErrPersistence.Error() + ": " + e.Op
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistence) match every wrapped fault.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Persistence wraps err as a storage fault for op. A nil err stays nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
