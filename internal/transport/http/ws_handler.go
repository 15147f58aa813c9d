package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type answerPayload struct {
	OptionIndex *int `json:"optionIndex"`
}

type submittedPayload struct {
	Attempt domain.Attempt   `json:"attempt"`
	Ratio   float64          `json:"ratio"`
	Strong  bool             `json:"strong"`
	Review  []app.ReviewItem `json:"review"`
}

const writeWait = 10 * time.Second

// outbox serializes writes to one connection through a single writer goroutine.
type outbox struct {
	send       chan outboundMessage[any]
	writerDone chan struct{}
}

func newOutbox(conn *websocket.Conn) *outbox {
	o := &outbox{
		send:       make(chan outboundMessage[any], 16),
		writerDone: make(chan struct{}),
	}
	go func() {
		defer close(o.writerDone)
		for msg := range o.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write failed")
				// drain until closed
				for range o.send {
				}
				return
			}
		}
	}()
	return o
}

func (o *outbox) emit(typ string, payload any) {
	o.send <- outboundMessage[any]{Type: typ, Payload: payload}
}

// emitOr is emit for producers that must not outlive the connection: it gives
// up once done is closed.
func (o *outbox) emitOr(done <-chan struct{}, typ string, payload any) bool {
	select {
	case o.send <- outboundMessage[any]{Type: typ, Payload: payload}:
		return true
	case <-done:
		return false
	}
}

func (o *outbox) fail(err error) {
	_, body := describeError(err)
	o.emit("error", errorPayload{Message: body.Error})
}

func (o *outbox) close() {
	close(o.send)
	<-o.writerDone
}

// AttemptSocket runs one attempt session over a websocket.
type AttemptSocket struct {
	attempts *app.AttemptService
}

func NewAttemptSocket(attempts *app.AttemptService) *AttemptSocket {
	return &AttemptSocket{attempts: attempts}
}

// ServeHTTP opens a session for ?code= and upgrades. Session errors that occur
// before the upgrade are returned as plain HTTP errors.
func (h *AttemptSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, domain.Invalid("code", "required"))
		return
	}
	session, err := h.attempts.Begin(r.Context(), user, code)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	out := newOutbox(conn)
	defer out.close()

	out.emit("intro", session.Intro())

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			if err := session.Start(); err != nil {
				out.fail(err)
				continue
			}
			emitQuestion(out, session)
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.OptionIndex == nil {
				out.emit("error", errorPayload{Message: "invalid answer payload"})
				continue
			}
			if q, err := session.CurrentQuestion(); err == nil && q.Index == q.Total-1 {
				out.emit("submitting", nil)
			}
			err := session.SubmitAnswer(r.Context(), *payload.OptionIndex)
			h.afterSubmit(out, session, err)
		case "retry":
			out.emit("submitting", nil)
			_, err := session.Retry(r.Context())
			h.afterSubmit(out, session, err)
		default:
			out.emit("error", errorPayload{Message: "unsupported message type"})
		}
	}
}

func (h *AttemptSocket) afterSubmit(out *outbox, session *app.AttemptSession, err error) {
	var wErr *domain.WriteError
	switch {
	case errors.As(err, &wErr):
		log.Warn().Err(err).Str("submissionId", session.SubmissionID()).Msg("attempt submission failed")
		out.emit("submitFailed", errorPayload{Message: "Could not save your answers. Retry to submit again."})
		return
	case err != nil:
		out.fail(err)
		return
	}
	switch session.State() {
	case app.StateAnswering:
		emitQuestion(out, session)
	case app.StateSubmitted:
		attempt, _ := session.Attempt()
		review, _ := session.Review()
		out.emit("submitted", submittedPayload{
			Attempt: attempt,
			Ratio:   attempt.Ratio(),
			Strong:  attempt.Strong(),
			Review:  review,
		})
	}
}

func emitQuestion(out *outbox, session *app.AttemptSession) {
	q, err := session.CurrentQuestion()
	if err != nil {
		out.fail(err)
		return
	}
	out.emit("question", q)
}
