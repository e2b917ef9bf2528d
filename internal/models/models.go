package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Mode partitions targets by visiting policy.
type Mode string

const (
	// ModeContinuous targets are visited on every tick regardless of time of day.
	ModeContinuous Mode = "continuous"
	// ModeScheduled targets are visited only outside the quiet window.
	ModeScheduled Mode = "scheduled"
)

// ParseMode accepts the canonical spellings plus the legacy "24h" alias.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continuous", "24h":
		return ModeContinuous, nil
	case "scheduled":
		return ModeScheduled, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Label is the human readable description used in alerts.
func (m Mode) Label() string {
	if m == ModeContinuous {
		return "continuous (24h) traffic"
	}
	return "scheduled traffic"
}

// Target represents a URL to keep warm.
type Target struct {
	ID     int64  `json:"id"`
	URL    string `json:"url"`
	Name   string `json:"name"`
	Mode   Mode   `json:"mode"`
	Active bool   `json:"active"`
}

// TargetInput is an unvalidated create or edit request.
type TargetInput struct {
	URL    string `json:"url" yaml:"url"`
	Name   string `json:"name" yaml:"name"`
	Mode   string `json:"mode" yaml:"mode"`
	Active *bool  `json:"active,omitempty" yaml:"active"`
}

// StatusKind discriminates Status.
type StatusKind int

const (
	// StatusHTTP means a response was received; Code holds the status code.
	StatusHTTP StatusKind = iota
	// StatusTransport means no response was received; Transport holds the classifier.
	StatusTransport
)

// Status is the outcome of a visit: either an HTTP status code or a
// symbolic transport failure code. It encodes to JSON as a number or a
// string respectively.
type Status struct {
	Kind      StatusKind
	Code      int
	Transport string
}

// HTTPStatus returns a Status for a received response.
func HTTPStatus(code int) Status { return Status{Kind: StatusHTTP, Code: code} }

// TransportStatus returns a Status for a failure without a response.
func TransportStatus(code string) Status { return Status{Kind: StatusTransport, Transport: code} }

func (s Status) String() string {
	if s.Kind == StatusHTTP {
		return strconv.Itoa(s.Code)
	}
	return s.Transport
}

func (s Status) MarshalJSON() ([]byte, error) {
	if s.Kind == StatusHTTP {
		return json.Marshal(s.Code)
	}
	return json.Marshal(s.Transport)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var code int
	if err := json.Unmarshal(b, &code); err == nil {
		*s = HTTPStatus(code)
		return nil
	}
	var tag string
	if err := json.Unmarshal(b, &tag); err != nil {
		return fmt.Errorf("status must be a number or a string: %w", err)
	}
	*s = TransportStatus(tag)
	return nil
}

// AccessLog stores the outcome of a single visit. URL and Mode are copied
// from the target at visit time.
type AccessLog struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	Mode      Mode   `json:"mode"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NotifierConfig is the alert destination and its delivery credential.
type NotifierConfig struct {
	ChatID      string
	BotToken    string
	PushEnabled bool
}

// Configured reports whether both identity and credential are present.
func (c NotifierConfig) Configured() bool {
	return c.ChatID != "" && c.BotToken != ""
}
