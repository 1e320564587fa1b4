package model

import "time"

// Resource is a claimable resource. Bounded resources have a finite
// Remaining stock; unbounded ones only enforce one grant per subject.
type Resource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Bounded   bool   `json:"bounded"`
	Remaining int64  `json:"remaining"`
}

// Grant records that a subject holds one unit of a resource.
type Grant struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	SubjectID  string    `json:"subject_id"`
	RequestID  string    `json:"request_id"`
	CreatedAt  time.Time `json:"created_at"`
}
