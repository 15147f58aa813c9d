package http

import (
	"encoding/json"
	"net/http"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"github.com/rs/zerolog/log"
)

type focusPayload struct {
	QuizID string `json:"quizId"`
}

// ResultsSocket streams a teacher's live result view.
type ResultsSocket struct {
	results *app.ResultService
}

func NewResultsSocket(results *app.ResultService) *ResultsSocket {
	return &ResultsSocket{results: results}
}

// ServeHTTP watches the caller's quizzes, optionally focused via ?quizId=.
func (h *ResultsSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	view, err := h.results.Watch(r.Context(), user, r.URL.Query().Get("quizId"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer view.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	out := newOutbox(conn)
	closeSignals := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-view.Updates():
				if !ok {
					return
				}
				if !out.emitOr(closeSignals, "results", snap) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "focus":
			var payload focusPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuizID == "" {
				out.fail(domain.Invalid("quizId", "required"))
				continue
			}
			if err := view.Focus(r.Context(), payload.QuizID); err != nil {
				out.fail(err)
			}
		case "unfocus":
			view.Unfocus()
		default:
			out.emit("error", errorPayload{Message: "unsupported message type"})
		}
	}

	close(closeSignals)
	<-updatesDone
	out.close()
}
