package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

// API holds the use cases behind the REST routes.
type API struct {
	Identity  *app.IdentityService
	Roster    *app.RosterService
	Authoring *app.AuthoringService
	Attempts  *app.AttemptService
	Results   *app.ResultService
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func currentUser(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "not authenticated")
	}
	return u, ok
}

// GET /api/v1/me
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	if u, ok := currentUser(w, r); ok {
		writeJSON(w, http.StatusOK, u)
	}
}

// POST /api/v1/me/role {"role":"TEACHER|STUDENT"}
func (a *API) SetRole(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !decode(w, r, &req) {
		return
	}
	role, err := domain.ParseRole(strings.ToUpper(strings.TrimSpace(req.Role)))
	if err != nil {
		writeError(w, domain.Invalid("role", "oneof"))
		return
	}
	updated, err := a.Identity.SetRole(r.Context(), u.ID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// POST /api/v1/me/binding {"className","seatNumber","name"}
func (a *API) Bind(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		ClassName  string `json:"className"`
		SeatNumber string `json:"seatNumber"`
		Name       string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	bound, err := a.Identity.BindStudent(r.Context(), u.ID, req.ClassName, req.SeatNumber, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bound)
}

// GET /api/v1/me/attempts
func (a *API) MyAttempts(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	attempts, err := a.Results.ListOwnAttempts(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

// GET /api/v1/attempts/{id}
func (a *API) GetAttempt(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	attempt, err := a.Results.GetAttempt(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app.ResultRow{Attempt: attempt, Ratio: attempt.Ratio(), Strong: attempt.Strong()})
}

// GET /api/v1/roster
func (a *API) ListRoster(w http.ResponseWriter, r *http.Request) {
	students, err := a.Roster.ListStudents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

// POST /api/v1/roster
func (a *API) AddStudent(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.RegisteredStudent
	if !decode(w, r, &req) {
		return
	}
	added, err := a.Roster.AddStudent(r.Context(), u, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

// DELETE /api/v1/roster/{id}
func (a *API) RemoveStudent(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := a.Roster.RemoveStudent(r.Context(), u, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/quizzes
func (a *API) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	quizzes, err := a.Authoring.ListQuizzes(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

// POST /api/v1/quizzes {draft}
func (a *API) Publish(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var draft app.Draft
	if !decode(w, r, &draft) {
		return
	}
	quiz, err := a.Authoring.Publish(r.Context(), u, draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

// POST /api/v1/quizzes/generate {"draft","topic","count"}
func (a *API) Generate(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !u.IsTeacher() {
		writeError(w, domain.ErrForbidden)
		return
	}
	var req struct {
		Draft app.Draft `json:"draft"`
		Topic string    `json:"topic"`
		Count int       `json:"count"`
	}
	if !decode(w, r, &req) {
		return
	}
	draft, err := a.Authoring.Generate(r.Context(), req.Draft, req.Topic, req.Count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// POST /api/v1/quizzes/explain {"draft","questionId"}
func (a *API) Explain(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !u.IsTeacher() {
		writeError(w, domain.ErrForbidden)
		return
	}
	var req struct {
		Draft      app.Draft `json:"draft"`
		QuestionID string    `json:"questionId"`
	}
	if !decode(w, r, &req) {
		return
	}
	draft, err := a.Authoring.Explain(r.Context(), req.Draft, req.QuestionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// GET /api/v1/quizzes/code/{code}
func (a *API) QuizByCode(w http.ResponseWriter, r *http.Request) {
	quiz, err := a.Authoring.QuizByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// PUT /api/v1/quizzes/{id} {draft}
func (a *API) UpdateQuiz(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var draft app.Draft
	if !decode(w, r, &draft) {
		return
	}
	quiz, err := a.Authoring.UpdateQuiz(r.Context(), u, chi.URLParam(r, "id"), draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// PATCH /api/v1/quizzes/{id}/active {"isActive":bool}
func (a *API) SetActive(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"isActive"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeError(w, domain.Invalid("isActive", "required"))
		return
	}
	quiz, err := a.Authoring.SetActive(r.Context(), u, chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// DELETE /api/v1/quizzes/{id}
func (a *API) DeleteQuiz(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := a.Authoring.DeleteQuiz(r.Context(), u, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
