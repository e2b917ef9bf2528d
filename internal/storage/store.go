package storage

import (
	"context"
	"errors"
	"time"

	"keepwarm/internal/models"
)

// ErrNotFound is returned when a requested document has never been saved.
var ErrNotFound = errors.New("not found")

// Document names.
const (
	DocTargets  = "targets"
	DocLogs     = "logs"
	DocNotifier = "notifier"
)

// DocumentStore persists whole JSON documents by name. Save replaces the
// previous document in full.
type DocumentStore interface {
	Load(ctx context.Context, name string, v any) error
	Save(ctx context.Context, name string, v any) error
	Close() error
}

// TargetsDocument is the durable layout of the target partitions.
type TargetsDocument struct {
	Targets          []models.Target `json:"targets"`
	ScheduledTargets []models.Target `json:"scheduledTargets"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// LogsDocument is the durable layout of the access log.
type LogsDocument struct {
	Logs        []models.AccessLog `json:"logs"`
	LastUpdated time.Time          `json:"lastUpdated"`
}

// NotifierDocument is the durable layout of the notifier config.
// PushEnabled is a pointer so an absent flag loads as enabled.
type NotifierDocument struct {
	ChatID      string    `json:"chatId"`
	BotToken    string    `json:"botToken"`
	PushEnabled *bool     `json:"pushEnabled,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}
