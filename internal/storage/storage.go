// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"campwatch/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateMatch = errors.New("duplicate match")
)

// UserStore reads user profiles.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByTelegramChat(ctx context.Context, chatID int64) (*model.User, error)
	ListUserIDsByTier(ctx context.Context, tier model.Tier) ([]string, error)
}

// AlertStore reads alerts and records polling bookkeeping on them.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *model.Alert) error
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	ListAlerts(ctx context.Context, userID string) ([]model.Alert, error)
	ListActiveAlerts(ctx context.Context, userID string) ([]model.Alert, error)
	TouchAlertChecked(ctx context.Context, id string, at time.Time) error
	IncrementMatchesFound(ctx context.Context, id string, at time.Time) error
}

// MatchStore persists alert matches.
type MatchStore interface {
	CreateMatch(ctx context.Context, m *model.AlertMatch) error
	ListOpenMatches(ctx context.Context, alertID string) ([]model.AlertMatch, error)
	ListAllOpenMatches(ctx context.Context) ([]model.AlertMatch, error)
	ListPendingMatches(ctx context.Context) ([]model.AlertMatch, error)
	ListMatches(ctx context.Context, alertID string) ([]model.AlertMatch, error)
	MarkNotified(ctx context.Context, ids []string, at time.Time, methods []model.NotificationMethod) error
	ExpireMatches(ctx context.Context, ids []string) error
}

// Storage is the interface for all persistence operations.
type Storage interface {
	UserStore
	AlertStore
	MatchStore

	Close() error
}
