package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/seatwatch/internal/seat"
)

// Watch marks a course with at least one subscriber.
type Watch struct {
	TermCode    string `json:"term_code"`
	SubjectCode string `json:"subject_code"`
	CourseID    string `json:"course_id"`
	SubCount    int    `json:"sub_count"`
}

// WatchCursor is the keyset position for paging through watches.
type WatchCursor struct {
	TermCode    string
	SubjectCode string
	CourseID    string
}

// Subscription is one user's interest in one section.
type Subscription struct {
	ID            uuid.UUID       `json:"sub_id"`
	UserID        string          `json:"user_id"` // email address
	TermCode      string          `json:"term_code"`
	SubjectCode   string          `json:"subject_code"`
	CourseID      string          `json:"course_id"`
	CatalogNumber string          `json:"catalog_number"`
	ClassNumber   string          `json:"class_number"`
	SectionName   string          `json:"section_name"`
	Title         string          `json:"title"`
	NotifyOn      seat.Preference `json:"notify_on"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SectionState is the last known status of a section.
type SectionState struct {
	TermCode      string      `json:"term_code"`
	ClassNumber   string      `json:"class_number"`
	Status        seat.Status `json:"status"`
	Title         string      `json:"title"`
	LastChangedAt time.Time   `json:"last_changed_at"`
	ScannedAt     time.Time   `json:"scanned_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

// UnsubscribeToken lets a recipient drop one subscription from an email link.
type UnsubscribeToken struct {
	Token     uuid.UUID `json:"token"`
	UserID    string    `json:"user_id"`
	SubID     uuid.UUID `json:"sub_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Suppression reasons written by the bounce/complaint processor.
const (
	SuppressionBounce    = "BOUNCE"
	SuppressionComplaint = "COMPLAINT"
)

// Suppression blocks all mail to an address.
type Suppression struct {
	Email     string     `json:"email"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
