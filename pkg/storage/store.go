package storage

import (
	"errors"

	"github.com/cuemby/owlog/pkg/types"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for collector state storage
type Store interface {
	// Controller status
	PutStatus(status *types.ControllerStatus) error
	GetStatus(name string) (*types.ControllerStatus, error)
	ListStatus() ([]*types.ControllerStatus, error)

	// Daily extrema summaries
	PutSummary(summary *types.DailySummary) error
	GetSummary(controller, day string) (*types.DailySummary, error)
	ListSummaries(controller string) ([]*types.DailySummary, error)

	// Utility
	Close() error
}
