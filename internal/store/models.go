package store

import "time"

type User struct {
	ID          string
	ExternalID  string
	Email       string
	DisplayName string
	PhotoURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ParentRoutine struct {
	ID          string
	UserID      string
	Title       string
	Category    string
	Description string
	Streak      int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type SubRoutine struct {
	ID        string
	UserID    string
	ParentID  string
	Title     string
	Category  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InputConfig describes how a routine is answered: target/unit for
// quantity routines, min/max for slider routines, empty for yes_no.
type InputConfig struct {
	Target *float64 `json:"target,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

type Routine struct {
	ID           string
	UserID       string
	ParentID     string
	SubRoutineID string
	Title        string
	Description  string
	Category     string
	Type         string
	InputConfig  *InputConfig
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RoutineLog struct {
	ID           string
	UserID       string
	ParentID     string
	SubRoutineID string
	RoutineID    string
	Action       string
	Value        *float64
	DateKey      string
	Timestamp    time.Time
}

// LogEntry is a RoutineLog joined with the titles and categories of the
// referenced routine, sub-routine, and parent. Reference fields survive the
// deletion of their target, so the joined fields may be empty.
type LogEntry struct {
	RoutineLog
	RoutineTitle       string
	RoutineCategory    string
	RoutineDescription string
	SubRoutineTitle    string
	SubRoutineCategory string
	ParentTitle        string
	ParentCategory     string
}
