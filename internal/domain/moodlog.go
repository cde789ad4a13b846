package domain

import (
	"time"
)

// MoodScores holds the per-question scores of a daily check-in. Each value
// ranges 0..3.
type MoodScores struct {
	Q1 int `bson:"q1" json:"q1"`
	Q2 int `bson:"q2" json:"q2"`
	Q3 int `bson:"q3" json:"q3"`
	Q4 int `bson:"q4" json:"q4"`
	Q5 int `bson:"q5" json:"q5"`
}

// Total returns the summed score.
func (s MoodScores) Total() int {
	return s.Q1 + s.Q2 + s.Q3 + s.Q4 + s.Q5
}

// Valid reports whether every score is within 0..3.
func (s MoodScores) Valid() bool {
	for _, v := range []int{s.Q1, s.Q2, s.Q3, s.Q4, s.Q5} {
		if v < 0 || v > 3 {
			return false
		}
	}
	return true
}

// MoodLog is a single daily mood check-in. LogDate is the calendar day in the
// service's reporting location, formatted 2006-01-02; one log per account per
// day.
type MoodLog struct {
	ID         string     `bson:"_id" json:"id"`
	AccountID  string     `bson:"account_id" json:"account_id"`
	LogDate    string     `bson:"log_date" json:"log_date"`
	Scores     MoodScores `bson:"scores" json:"scores"`
	TotalScore int        `bson:"total_score" json:"total_score"`
	Timestamp  time.Time  `bson:"timestamp" json:"timestamp"`
}
