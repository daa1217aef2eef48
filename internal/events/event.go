// Package events defines the status-change message passed from the poller to
// the notifier over the event bus.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lalithlochan/seatwatch/internal/seat"
)

const (
	// Source identifies the producer in message attributes.
	Source = "seatwatch.poller"
	// DetailType names the event kind in message attributes.
	DetailType = "SeatStatusChanged"
)

// ErrMalformed marks an event that can never be processed.
var ErrMalformed = errors.New("malformed status change event")

// StatusChangeEvent records one detected upward transition of a section.
type StatusChangeEvent struct {
	Term            string      `json:"term"`
	TermDescription string      `json:"termDescription"`
	SubjectCode     string      `json:"subjectCode"`
	CourseID        string      `json:"courseId"`
	ClassNbr        string      `json:"classNbr"`
	From            seat.Status `json:"from"`
	To              seat.Status `json:"to"`
	Title           string      `json:"title"`
	DetectedAt      time.Time   `json:"detectedAt"`
	FirstObservedAt *time.Time  `json:"firstObservedAt,omitempty"`
}

// New builds an event for a transition detected at detectedAt. It is the
// constructor used by the poller and by any instant-check path outside it.
func New(term, termDesc, subject, course, classNbr string, from, to seat.Status, title string, detectedAt time.Time) StatusChangeEvent {
	if termDesc == "" {
		termDesc = term
	}
	return StatusChangeEvent{
		Term:            term,
		TermDescription: termDesc,
		SubjectCode:     subject,
		CourseID:        course,
		ClassNbr:        classNbr,
		From:            from,
		To:              to,
		Title:           title,
		DetectedAt:      detectedAt.UTC(),
	}
}

// Validate checks the fields the notifier cannot work without.
func (e StatusChangeEvent) Validate() error {
	if strings.TrimSpace(e.Term) == "" {
		return fmt.Errorf("%w: missing term", ErrMalformed)
	}
	if strings.TrimSpace(e.ClassNbr) == "" {
		return fmt.Errorf("%w: missing classNbr", ErrMalformed)
	}
	return nil
}

// Encode marshals the event to its wire form.
func Encode(e StatusChangeEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// snsEnvelope is the JSON wrapper SNS puts around messages delivered to SQS
// when raw message delivery is off.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// Decode parses a bus message body. Bodies wrapped in an SNS notification
// envelope are unwrapped first. Unparseable bodies return ErrMalformed.
func Decode(body []byte) (StatusChangeEvent, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = []byte(env.Message)
	}

	var e StatusChangeEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return StatusChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}
