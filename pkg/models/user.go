// Package models contains shared data models used across the HandHunter codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles permitted to submit analysis jobs.
const (
	RoleHighTemplar = "high_templar"
	RoleReporter    = "reporter"
	RoleAdmin       = "admin"
	RoleUser        = "user"
)

// User is an API caller. Role gates job submission.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Role      string    `db:"role"       json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Video is a source video known to the system, keyed by its YouTube id.
type Video struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	URL       string    `db:"url"        json:"url"`
	YouTubeID string    `db:"youtube_id" json:"youtube_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Player is a cross-job identity keyed by normalized name.
type Player struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	Name           string    `db:"name"            json:"name"`
	NormalizedName string    `db:"normalized_name" json:"normalized_name"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}
