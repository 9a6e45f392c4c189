package domain

import "time"

// Mode selects how question ids are assigned to a session.
type Mode string

const (
	// ModeTraining walks the full catalog in natural id order.
	ModeTraining Mode = "training"
	// ModeTest draws a fixed-size random sample from the catalog.
	ModeTest Mode = "test"
)

// Valid reports whether the mode is one of the known session modes.
func (m Mode) Valid() bool {
	return m == ModeTraining || m == ModeTest
}

// AnswerOption is one selectable answer of a question. Option ids are opaque
// integers unique within their question.
type AnswerOption struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Question is the public projection of a catalog entry. It never carries the
// correct option; clients only learn the answer key through a recorded
// submission.
type Question struct {
	ID           int64          `json:"question_number"`
	Text         string         `json:"question_text"`
	Answers      []AnswerOption `json:"answers"`
	DocumentLink string         `json:"document_link,omitempty"`
	DocumentText string         `json:"document_text,omitempty"`
	ImageRef     string         `json:"image_url,omitempty"`
}

// AnswerKey is the private projection of a catalog entry.
type AnswerKey struct {
	QuestionID        int64
	CorrectAnswerID   int64
	CorrectAnswerText string
}

// QuestionRecord is the full catalog row as stored. Repositories hand out
// only one of its two projections.
type QuestionRecord struct {
	Question
	CorrectAnswerID   int64  `json:"correct_answer_id"`
	CorrectAnswerText string `json:"correct_answer_text"`
}

// Public returns the client-safe projection.
func (r QuestionRecord) Public() Question {
	return r.Question
}

// Key returns the verification projection.
func (r QuestionRecord) Key() AnswerKey {
	return AnswerKey{
		QuestionID:        r.ID,
		CorrectAnswerID:   r.CorrectAnswerID,
		CorrectAnswerText: r.CorrectAnswerText,
	}
}

// Session is one quiz attempt. The token is the only credential for the
// question/answer operations; a non-nil EndTime makes the session terminal.
type Session struct {
	ID            int64      `json:"id"`
	UserUUID      string     `json:"user_uuid"`
	Mode          Mode       `json:"mode"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Correct       int        `json:"correct_answers"`
	Wrong         int        `json:"wrong_answers"`
	Percentage    float64    `json:"percentage"`
	Token         string     `json:"-"`
	QuestionIDs   []int64    `json:"-"`
	Cursor        int        `json:"current_question_index"`
	Dispensed     int        `json:"-"`
	FocusSwitches int        `json:"focus_switches"`
}

// Closed reports whether the session reached its terminal state.
func (s Session) Closed() bool {
	return s.EndTime != nil
}

// AnswerEvent is the append-only record of a single submission.
type AnswerEvent struct {
	SessionID  int64
	QuestionID int64
	Correct    bool
	At         time.Time
}

// QuestionStat tracks how often a question was dispensed and missed.
// ErrorRate is always derived from the two counters in the same write.
type QuestionStat struct {
	QuestionID int64   `json:"question_id"`
	TotalShown int64   `json:"total_shown"`
	TotalWrong int64   `json:"total_wrong"`
	ErrorRate  float64 `json:"error_rate"`
}

// DifficultQuestion is a stats row joined with catalog text for reporting.
type DifficultQuestion struct {
	QuestionStat
	Text         string `json:"question_text,omitempty"`
	DocumentLink string `json:"document_link,omitempty"`
}

// OverallStats is the aggregate snapshot served by the stats endpoint and
// pushed to the messaging channel on request.
type OverallStats struct {
	TotalSessions     int64               `json:"totalSessions"`
	TotalUsers        int64               `json:"totalUsers"`
	AveragePercentage float64             `json:"averagePercentage"`
	TopDifficult      []DifficultQuestion `json:"topDifficultQuestions"`
}

// SessionSummary is what the notification sink receives when a session ends.
type SessionSummary struct {
	Session  Session
	TopWrong []int64
}
