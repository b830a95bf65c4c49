package models

import (
	"time"
)

// SubjectID identifies the group member being challenged.
type SubjectID string

// GroupID identifies the group the challenge is bound to.
type GroupID string

func (s SubjectID) String() string { return string(s) }
func (g GroupID) String() string   { return string(g) }

// Puzzle is a generated addition question.
type Puzzle struct {
	A int
	B int
}

// Answer is the expected sum.
func (p Puzzle) Answer() int {
	return p.A + p.B
}

// ChallengeRecord is the durable part of a pending challenge. The timer that
// enforces its deadline lives only in the process-local timer registry.
type ChallengeRecord struct {
	ID             string    `json:"id"`
	Subject        SubjectID `json:"subject"`
	Group          GroupID   `json:"group"`
	Puzzle         Puzzle    `json:"puzzle"`
	ExpectedAnswer int       `json:"expected_answer"`
	AttemptsUsed   int       `json:"attempts_used"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewChallengeRecord builds a fresh record with no attempts used.
func NewChallengeRecord(id string, subject SubjectID, group GroupID, puzzle Puzzle, now time.Time) *ChallengeRecord {
	return &ChallengeRecord{
		ID:             id,
		Subject:        subject,
		Group:          group,
		Puzzle:         puzzle,
		ExpectedAnswer: puzzle.Answer(),
		CreatedAt:      now,
	}
}

// Deadline is the instant the challenge times out.
func (r *ChallengeRecord) Deadline(maxAge time.Duration) time.Time {
	return r.CreatedAt.Add(maxAge)
}

// Remaining returns maxAge - (now - createdAt), clamped at zero.
func (r *ChallengeRecord) Remaining(maxAge time.Duration, now time.Time) time.Duration {
	return max(r.Deadline(maxAge).Sub(now), 0)
}

// RecordFailedAttempt increments the attempt counter and reports whether the
// budget is now exhausted.
func (r *ChallengeRecord) RecordFailedAttempt(maxAttempts int) (exhausted bool) {
	r.AttemptsUsed++
	return r.AttemptsUsed >= maxAttempts
}

// RemainingAttempts is the number of answers still accepted.
func (r *ChallengeRecord) RemainingAttempts(maxAttempts int) int {
	return max(maxAttempts-r.AttemptsUsed, 0)
}

// Matches reports whether answer is the expected sum.
func (r *ChallengeRecord) Matches(answer int) bool {
	return answer == r.ExpectedAnswer
}

// Outcome labels the transition an event produced. Verified, Failed and
// TimedOut are terminal: the record is gone once they are reported.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeIssued    Outcome = "issued"
	OutcomeRetry     Outcome = "retry"
	OutcomeVerified  Outcome = "verified"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeAbandoned Outcome = "abandoned"
)

// IsTerminal reports whether the outcome ends the challenge.
func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeVerified, OutcomeFailed, OutcomeTimedOut:
		return true
	}
	return false
}

// MessageEvent is an inbound group message.
type MessageEvent struct {
	Subject   SubjectID
	Group     GroupID
	MessageID string
	Content   string
}
