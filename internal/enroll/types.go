package enroll

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ClassNumber accepts both JSON strings and numbers.
type ClassNumber string

func (n *ClassNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = ClassNumber(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = ClassNumber(num.String())
	return nil
}

// SubjectInfo is the subject block embedded in packages and sections.
type SubjectInfo struct {
	SubjectCode       string `json:"subjectCode"`
	ShortDescription  string `json:"shortDescription"`
	Description       string `json:"description"`
	FormalDescription string `json:"formalDescription"`
}

// Name returns the first non-empty description.
func (s *SubjectInfo) Name() string {
	if s == nil {
		return ""
	}
	for _, v := range []string{s.ShortDescription, s.Description, s.FormalDescription} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Section is one lecture, lab or discussion inside a package.
type Section struct {
	ClassUniqueID struct {
		ClassNumber ClassNumber `json:"classNumber"`
	} `json:"classUniqueId"`
	Type          string       `json:"type"`
	SectionNumber string       `json:"sectionNumber"`
	Subject       *SubjectInfo `json:"subject"`
}

// Package is one enrollable combination of sections.
type Package struct {
	EnrollmentClassNumber ClassNumber   `json:"enrollmentClassNumber"`
	CatalogNumber         string        `json:"catalogNumber"`
	Subject               *SubjectInfo  `json:"subject"`
	AutoEnrollClasses     []ClassNumber `json:"autoEnrollClasses"`
	Sections              []Section     `json:"sections"`

	PackageEnrollmentStatus struct {
		Status string `json:"status"`
	} `json:"packageEnrollmentStatus"`

	EnrollmentStatus struct {
		OpenSeats *int `json:"openSeats"`
	} `json:"enrollmentStatus"`
}

// ClassNumber returns the package's enrollment class number, falling back to
// the first section's.
func (p Package) ClassNumber() string {
	if p.EnrollmentClassNumber != "" {
		return string(p.EnrollmentClassNumber)
	}
	if len(p.Sections) > 0 {
		return string(p.Sections[0].ClassUniqueID.ClassNumber)
	}
	return ""
}

// EmbeddedSubjectName returns a subject name carried inside the package.
func (p Package) EmbeddedSubjectName() string {
	if len(p.Sections) > 0 {
		if name := p.Sections[0].Subject.Name(); name != "" {
			return name
		}
	}
	return p.Subject.Name()
}

// Term is one entry of the aggregate endpoint.
type Term struct {
	TermCode         string   `json:"termCode"`
	ShortDescription string   `json:"shortDescription"`
	LongDescription  string   `json:"longDescription"`
	EndDate          FlexTime `json:"endDate"`
}

// FlexTime decodes epoch milliseconds, RFC 3339 timestamps or plain dates.
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || len(data) == 0 {
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return err
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	return &time.ParseError{Layout: time.RFC3339, Value: s}
}
