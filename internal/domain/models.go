package domain

import (
	"sort"
	"strconv"
	"time"
)

// NoAnswer marks a question position the taker has not answered.
const NoAnswer = -1

// StrongRatio is the success ratio at which an attempt is shown as a strong performance.
const StrongRatio = 0.8

// Question models a multiple-choice question with exactly one correct option.
type Question struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text" validate:"notblank"`
	Options            []string `json:"options" validate:"min=2,dive,notblank"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation,omitempty"`
}

// Quiz is the immutable definition a student takes.
type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title" validate:"notblank"`
	Description string     `json:"description"`
	Questions   []Question `json:"questions" validate:"min=1,dive"`
	CreatorID   string     `json:"creatorId"`
	CreatedAt   time.Time  `json:"createdAt"`
	Code        string     `json:"code"`
	IsActive    bool       `json:"isActive"`
}

// Attempt is the persisted record of one completed session. Title, creator and
// student name are snapshots taken at submission time.
type Attempt struct {
	ID             string    `json:"id"`
	SubmissionID   string    `json:"submissionId"`
	QuizID         string    `json:"quizId"`
	QuizTitle      string    `json:"quizTitle"`
	QuizCreatorID  string    `json:"quizCreatorId"`
	StudentID      string    `json:"studentId"`
	StudentName    string    `json:"studentName"`
	ClassName      string    `json:"className"`
	SeatNumber     string    `json:"seatNumber"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	Answers        []int     `json:"answers"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Ratio is score over total questions, zero for an empty attempt.
func (a Attempt) Ratio() float64 {
	if a.TotalQuestions == 0 {
		return 0
	}
	return float64(a.Score) / float64(a.TotalQuestions)
}

// Strong reports whether the attempt reaches the strong performance tier.
func (a Attempt) Strong() bool {
	return a.TotalQuestions > 0 && a.Ratio() >= StrongRatio
}

// RegisteredStudent is a roster entry maintained by teachers.
type RegisteredStudent struct {
	ID         string `json:"id"`
	ClassName  string `json:"className" validate:"notblank"`
	SeatNumber string `json:"seatNumber" validate:"required,number"`
	Name       string `json:"name" validate:"notblank"`
}

// SortRoster orders entries by class, then by seat number numerically.
func SortRoster(students []RegisteredStudent) {
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].ClassName != students[j].ClassName {
			return students[i].ClassName < students[j].ClassName
		}
		si, ei := strconv.Atoi(students[i].SeatNumber)
		sj, ej := strconv.Atoi(students[j].SeatNumber)
		if ei == nil && ej == nil && si != sj {
			return si < sj
		}
		return students[i].SeatNumber < students[j].SeatNumber
	})
}

// AttemptScope selects attempts for a live view or listing. Empty fields do not constrain.
type AttemptScope struct {
	QuizID    string `json:"quizId,omitempty"`
	CreatorID string `json:"creatorId,omitempty"`
	StudentID string `json:"studentId,omitempty"`
}

// Matches reports whether the attempt falls inside the scope.
func (s AttemptScope) Matches(a Attempt) bool {
	if s.QuizID != "" && a.QuizID != s.QuizID {
		return false
	}
	if s.CreatorID != "" && a.QuizCreatorID != s.CreatorID {
		return false
	}
	if s.StudentID != "" && a.StudentID != s.StudentID {
		return false
	}
	return true
}

// Filter returns the attempts matching the scope, preserving order.
func (s AttemptScope) Filter(attempts []Attempt) []Attempt {
	out := make([]Attempt, 0, len(attempts))
	for _, a := range attempts {
		if s.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// AttemptBatch is one delivery on a live attempt feed. Resync batches carry the
// full matching set; others carry new attempts only. A batch with Err is the
// last one sent before the feed closes.
type AttemptBatch struct {
	Attempts []Attempt
	Resync   bool
	Err      error
}

// SortAttempts orders attempts newest first, breaking timestamp ties by id.
func SortAttempts(attempts []Attempt) {
	sort.Slice(attempts, func(i, j int) bool {
		return AttemptBefore(attempts[i], attempts[j])
	})
}

// AttemptBefore reports whether a sorts ahead of b in a time-descending view.
func AttemptBefore(a, b Attempt) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.After(b.SubmittedAt)
	}
	return a.ID > b.ID
}

// Score counts positions where the answer equals the question's correct index.
// Missing or unanswered positions count as incorrect.
func Score(quiz Quiz, answers []int) int {
	score := 0
	for i, q := range quiz.Questions {
		if i < len(answers) && answers[i] != NoAnswer && answers[i] == q.CorrectAnswerIndex {
			score++
		}
	}
	return score
}
