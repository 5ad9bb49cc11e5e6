package storage

import (
	"context"
	"errors"
	"time"

	"envplan/internal/enterprise"
)

var ErrNotFound = errors.New("not found")

// Store combines enterprise, run and usage persistence.
type Store interface {
	EnterpriseStore
	RunStore
	UsageStore
	Close() error
}

// EnterpriseStore keeps enterprise blobs by id.
type EnterpriseStore interface {
	// SaveEnterprise upserts a blob.
	SaveEnterprise(ctx context.Context, id string, blob enterprise.Blob) error

	// GetEnterprise returns ErrNotFound for unknown ids.
	GetEnterprise(ctx context.Context, id string) (enterprise.Blob, error)

	ListEnterprises(ctx context.Context) ([]EnterpriseRecord, error)
}

// RunStore records generation runs for audit.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error

	// ListRuns returns the newest runs first, optionally for one enterprise.
	ListRuns(ctx context.Context, enterpriseID string, limit int) ([]Run, error)

	GetRun(ctx context.Context, id string) (Run, error)
}

// UsageStore persists daily model-call counters so quotas survive restarts.
type UsageStore interface {
	SaveUsage(ctx context.Context, day string, total int, users map[string]int) error
	LoadUsage(ctx context.Context, day string) (total int, users map[string]int, err error)
}

type EnterpriseRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Run struct {
	ID           string    `json:"id"`
	EnterpriseID string    `json:"enterprise_id,omitempty"`
	Mode         string    `json:"mode"`
	UserID       string    `json:"user_id,omitempty"`
	Success      bool      `json:"success"`
	ErrorCount   int       `json:"error_count"`
	Result       []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
