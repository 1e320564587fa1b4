package model

import (
	"encoding/json"
	"time"
)

type Exam struct {
	ID              string    `json:"id"`
	Name            string    `json:"name" validate:"required,max=128"`
	Type            int       `json:"type"`
	DifficultyLevel int       `json:"difficulty_level"`
	GradeLevel      int       `json:"grade_level"`
	TotalScore      float64   `json:"total_score" validate:"gt=0"`
	PassScore       float64   `json:"pass_score" validate:"gte=0,ltefield=TotalScore"`
	Duration        int       `json:"duration"` // minutes
	Creator         string    `json:"creator" validate:"required"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Status          int       `json:"status"`
}

// ExamChanges is a partial exam update. Nil fields keep their stored value.
type ExamChanges struct {
	Name            *string
	Type            *int
	DifficultyLevel *int
	GradeLevel      *int
	TotalScore      *float64
	PassScore       *float64
	Duration        *int
	StartTime       *time.Time
	EndTime         *time.Time
	Status          *int
}

func (c ExamChanges) Empty() bool { return c == ExamChanges{} }

// ExamFilter scopes an exam listing.
type ExamFilter struct {
	Creator string `json:"creator"`
}

// Question keeps Options and Answer as uninterpreted JSON; their shape depends
// on the question type.
type Question struct {
	ID        string          `json:"id"`
	Creator   string          `json:"creator"`
	Type      int             `json:"type"`
	Content   string          `json:"content" validate:"required"`
	Options   json.RawMessage `json:"options,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Score     float64         `json:"score"`
	CreatedAt time.Time       `json:"created_at"`
}
