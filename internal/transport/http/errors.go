package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"classroom-quiz-service/internal/domain"
	"github.com/rs/zerolog/log"
)

type errResp struct {
	Error    string           `json:"error"`
	Problems []domain.Problem `json:"problems,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}

// writeError maps domain errors to a status and a client-safe body.
func writeError(w http.ResponseWriter, err error) {
	status, body := describeError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func describeError(err error) (int, errResp) {
	var (
		vErr   *domain.ValidationError
		idErr  *domain.IdentityError
		genErr *domain.GenerationError
		wErr   *domain.WriteError
		subErr *domain.SubscriptionError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, errResp{Error: "validation failed", Problems: vErr.Problems}
	case errors.As(err, &idErr):
		switch {
		case errors.Is(err, domain.ErrIncompleteBinding):
			return http.StatusBadRequest, errResp{Error: idErr.Err.Error()}
		case errors.Is(err, domain.ErrStudentNotFound):
			return http.StatusNotFound, errResp{Error: idErr.Err.Error()}
		}
		return http.StatusConflict, errResp{Error: idErr.Err.Error()}
	case errors.As(err, &genErr):
		return http.StatusBadGateway, errResp{Error: genErr.UserMessage()}
	case errors.As(err, &wErr), errors.As(err, &subErr):
		return http.StatusServiceUnavailable, errResp{Error: "storage temporarily unavailable"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errResp{Error: err.Error()}
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrStudentNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound, errResp{Error: err.Error()}
	case errors.Is(err, domain.ErrQuizInactive),
		errors.Is(err, domain.ErrDuplicateRosterEntry),
		errors.Is(err, domain.ErrCodeTaken):
		return http.StatusConflict, errResp{Error: err.Error()}
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrOptionOutOfRange):
		return http.StatusBadRequest, errResp{Error: err.Error()}
	}
	return http.StatusInternalServerError, errResp{Error: "internal error"}
}
