package owserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/owlog/pkg/bus"
	"github.com/cuemby/owlog/pkg/log"
	"github.com/cuemby/owlog/pkg/types"
	"github.com/rs/zerolog"
)

// deviceName matches a device directory such as 28.AABBCCDDEEFF
var deviceName = regexp.MustCompile(`^([0-9A-Fa-f]{2})\.[0-9A-Fa-f]{12}$`)

// Dialer opens owserver connections. It implements bus.Dialer.
type Dialer struct{}

// Dial implements bus.Dialer
func (Dialer) Dial(ctx context.Context, addr string, timeout time.Duration) (bus.Conn, error) {
	return Dial(ctx, addr, timeout)
}

// Client talks to one owserver. The connection is kept open between
// requests when the server grants persistence and reopened otherwise.
// A Client is not safe for concurrent use.
type Client struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
	logger  zerolog.Logger
}

// Dial connects to the owserver at addr. timeout bounds the connect and
// every later request; zero means no limit beyond ctx.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	c := &Client{
		addr:    addr,
		timeout: timeout,
		logger:  log.WithComponent("owserver").With().Str("addr", addr).Logger(),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

// drop discards the current connection; the next request reconnects
func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close closes the connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// roundTrip sends one request and returns the reply payload.
func (c *Client) roundTrip(ctx context.Context, typ int32, p string, size int32) ([]byte, error) {
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.drop()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	// Unblock the exchange when ctx is cancelled
	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := writeRequest(conn, typ, flagPersistence|flagOwnet, p, size); err != nil {
		c.drop()
		return nil, fmt.Errorf("failed to send request for %s: %w", p, err)
	}

	rep, data, err := readReply(conn)
	if err != nil {
		if !errors.Is(err, ErrServer) || rep.Flags&flagPersistence == 0 {
			c.drop()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", p, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w", p, err)
	}

	if rep.Flags&flagPersistence == 0 {
		c.drop()
	}
	return data, nil
}

// Ping sends a no-op message
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, msgNop, "", 0)
	return err
}

// Dir lists the entries of a bus directory
func (c *Client) Dir(ctx context.Context, p string) ([]string, error) {
	data, err := c.roundTrip(ctx, msgDirAll, p, 0)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimRight(data, "\x00")
	var entries []string
	for _, e := range strings.Split(string(data), ",") {
		if e = strings.TrimSpace(e); e != "" {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ReadString reads a property value with padding removed
func (c *Client) ReadString(ctx context.Context, p string) (string, error) {
	data, err := c.roundTrip(ctx, msgRead, p, readSize)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bytes.TrimRight(data, "\x00"))), nil
}

// ReadFloat reads a numeric property
func (c *Client) ReadFloat(ctx context.Context, p string) (float64, error) {
	s, err := c.ReadString(ctx, p)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid value %q", p, s)
	}
	return v, nil
}

// Discover enumerates every device on the controller, descending into the
// main and aux branches of couplers.
func (c *Client) Discover(ctx context.Context) ([]*types.Sensor, error) {
	return c.discover(ctx, "/", false)
}

func (c *Client) discover(ctx context.Context, dir string, sub bool) ([]*types.Sensor, error) {
	entries, err := c.Dir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var sensors []*types.Sensor
	for _, entry := range entries {
		m := deviceName.FindStringSubmatch(path.Base(entry))
		if m == nil {
			continue
		}
		family := strings.ToUpper(m[1])

		if family == familyCoupler {
			for _, branch := range []string{"main", "aux"} {
				found, err := c.discover(ctx, path.Join(entry, branch), true)
				if err != nil {
					if errors.Is(err, ErrServer) {
						c.logger.Debug().Err(err).Str("branch", branch).Msg("Skipping coupler branch")
						continue
					}
					return nil, err
				}
				sensors = append(sensors, found...)
			}
			continue
		}

		addr, err := c.ReadString(ctx, path.Join(entry, "address"))
		if err != nil {
			if errors.Is(err, ErrServer) {
				c.logger.Warn().Err(err).Str("path", entry).Msg("Skipping device without address")
				continue
			}
			return nil, err
		}

		s := &types.Sensor{
			ID:        types.CanonicalID(addr),
			Family:    family,
			Path:      entry,
			SubDevice: sub,
			Readings:  Readings(family),
		}
		s.Initialized = len(s.Readings) > 0
		sensors = append(sensors, s)
	}
	return sensors, nil
}

// Read reads every used reading of s and stages the values. Nothing is
// staged when any property fails.
func (c *Client) Read(ctx context.Context, s *types.Sensor) error {
	used := s.UsedReadings()
	if len(used) == 0 {
		return fmt.Errorf("%s: %w", s.ID, bus.ErrNotSupported)
	}

	values := make([]float64, len(used))
	for i, r := range used {
		v, err := c.ReadFloat(ctx, path.Join(s.Path, r.Name))
		if err != nil {
			return fmt.Errorf("sensor %s: %w", s.ID, err)
		}
		values[i] = v
	}

	for i, r := range used {
		r.Stage(values[i])
	}
	return nil
}
