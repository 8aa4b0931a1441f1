// Package bus defines the boundary between the sampling engine and a
// sensor-bus controller. The owserver subpackage implements it over the
// owserver network protocol.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/owlog/pkg/types"
)

var (
	// ErrNotSupported is returned by Read for a sensor whose family has no
	// readable properties
	ErrNotSupported = errors.New("sensor not supported")
)

// Dialer opens connections to a controller
type Dialer interface {
	Dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, addr string, timeout time.Duration) (Conn, error)

// Dial calls f
func (f DialerFunc) Dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	return f(ctx, addr, timeout)
}

// Conn is an open controller connection.
type Conn interface {
	// Discover enumerates the sensors attached to the controller. Sensors of
	// unknown families are returned uninitialized.
	Discover(ctx context.Context) ([]*types.Sensor, error)

	// Read reads every used reading of s and stages the raw values with
	// Reading.Stage. Either all used readings are staged or none are.
	Read(ctx context.Context, s *types.Sensor) error

	Close() error
}
