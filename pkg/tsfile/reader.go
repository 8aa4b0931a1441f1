package tsfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/cuemby/owlog/pkg/types"
)

const (
	// readBufferSize is the size of the fixed read buffer
	readBufferSize = 4096

	// maxTokenLength bounds a single token; longer tokens are invalid
	maxTokenLength = 64

	// columnBlock is the granularity in which the column map grows
	columnBlock = 16
)

// ReadStats summarizes one pass over a data file
type ReadStats struct {
	Lines    int // data lines with a valid timestamp
	Sections int // header sections seen
	Mapped   int // columns mapped in the last header section
	Values   int // values applied to readings
	Missing  int // sentinel tokens
	Skipped  int // tokens skipped: unmapped column, zero timestamp or malformed
}

// slot is one entry of the column map. A zero slot is a hole: the column
// exists in the file but does not map to any known sensor reading.
type slot struct {
	sensor  *types.Sensor
	reading int // index into sensor.Readings
	mapped  bool
}

// columnMap maps 1-based column numbers to reading slots for the current
// header section.
type columnMap struct {
	slots []slot
}

func (m *columnMap) reset() {
	clear(m.slots)
	m.slots = m.slots[:0]
}

func (m *columnMap) set(col int, s slot) {
	if col >= len(m.slots) {
		m.grow(col + 1)
	}
	m.slots[col] = s
}

// grow extends the map to at least n entries, doubling and rounding up to
// whole blocks. New entries are holes.
func (m *columnMap) grow(n int) {
	size := 2 * len(m.slots)
	if size < n {
		size = n
	}
	size = (size + columnBlock - 1) / columnBlock * columnBlock
	if size <= cap(m.slots) {
		m.slots = m.slots[:size]
		return
	}
	grown := make([]slot, size)
	copy(grown, m.slots)
	m.slots = grown
}

func (m *columnMap) get(col int) (slot, bool) {
	if col < 0 || col >= len(m.slots) {
		return slot{}, false
	}
	s := m.slots[col]
	return s, s.mapped
}

// reader holds the state of one streaming pass.
type reader struct {
	sensors []*types.Sensor
	cols    columnMap
	stats   ReadStats

	st       state
	inHeader bool
	tok      []byte
	overflow bool

	// header section
	hdrCol   int
	lastCol  int
	assigned map[*types.Sensor]int

	// data line
	line    int
	ts      int64
	col     int
	counted map[*types.Sensor]int
}

func newReader(sensors []*types.Sensor) *reader {
	return &reader{
		sensors:  sensors,
		st:       stLineStart,
		tok:      make([]byte, 0, maxTokenLength),
		assigned: make(map[*types.Sensor]int),
		counted:  make(map[*types.Sensor]int),
	}
}

// Read reconstructs the last known value and today's extrema of every
// reading in sensors from the data stream src. Only active sensors are
// matched. A trailing partial line is ignored from its first incomplete
// token on.
func Read(src io.Reader, sensors []*types.Sensor) (ReadStats, error) {
	r := newReader(sensors)
	buf := make([]byte, readBufferSize)

	for {
		n, err := src.Read(buf)
		for _, c := range buf[:n] {
			if ierr := r.feed(c); ierr != nil {
				return r.stats, ierr
			}
		}
		if errors.Is(err, io.EOF) {
			return r.stats, nil
		}
		if err != nil {
			return r.stats, fmt.Errorf("failed to read data: %w", err)
		}
	}
}

// ReadFile reads the data file at path. A missing file yields ErrNoFile.
func ReadFile(path string, sensors []*types.Sensor) (ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ReadStats{}, fmt.Errorf("%w: %s", ErrNoFile, path)
		}
		return ReadStats{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stats, err := Read(f, sensors)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", path, err)
	}
	return stats, nil
}

// ReadDay reads the data file with the given prefix for the local calendar
// day containing day.
func ReadDay(prefix string, sensors []*types.Sensor, day time.Time) (ReadStats, error) {
	return ReadFile(Path(prefix, day), sensors)
}

// feed advances the state machine by one byte and performs its action.
func (r *reader) feed(c byte) error {
	next, act := step(r.st, c)
	r.st = next

	switch act {
	case actNone:
	case actAccumulate:
		r.accumulate(c)
	case actHeaderLine:
		if !r.inHeader {
			// A header after data means the writer restarted; the old
			// mapping no longer applies.
			r.startSection()
		}
		r.resetToken()
	case actHdrComment:
		// A preamble line after column lines opens a new header even
		// when no data line separates them.
		if len(r.tok) == 0 && r.lastCol > 0 {
			r.startSection()
		}
		r.resetToken()
	case actHdrColumn:
		r.hdrCol = r.columnNumber()
		if r.hdrCol >= firstDataColumn {
			if r.hdrCol <= r.lastCol {
				r.startSection()
			}
			r.lastCol = r.hdrCol
		}
		r.resetToken()
	case actHdrID:
		r.mapColumn()
		r.resetToken()
	case actDataLine:
		r.inHeader = false
		r.line++
		r.ts = 0
		r.col = 1
		r.resetToken()
		r.accumulate(c)
	case actTimestamp, actTimestampEOL:
		r.ts = 0
		if !r.overflow {
			r.ts = parseTimestamp(r.tok)
		}
		if r.ts != 0 {
			r.stats.Lines++
		}
		r.resetToken()
	case actValue, actValueEOL:
		err := r.applyValue()
		r.resetToken()
		return err
	}
	return nil
}

// startSection discards the column mapping of the previous header.
func (r *reader) startSection() {
	r.cols.reset()
	clear(r.assigned)
	r.inHeader = true
	r.lastCol = 0
	r.stats.Sections++
	r.stats.Mapped = 0
}

func (r *reader) accumulate(c byte) {
	if len(r.tok) >= maxTokenLength {
		r.overflow = true
		return
	}
	r.tok = append(r.tok, c)
}

func (r *reader) resetToken() {
	r.tok = r.tok[:0]
	r.overflow = false
}

// columnNumber returns the column of a header line, or 0 when invalid.
func (r *reader) columnNumber() int {
	if r.overflow || len(r.tok) == 0 || len(r.tok) > 6 {
		return 0
	}
	n := 0
	for _, c := range r.tok {
		n = n*10 + int(c-'0')
	}
	return n
}

// mapColumn maps the pending header column to the next unassigned used
// reading slot of the named sensor. Unknown sensors, surplus columns and
// invalid column numbers leave a hole.
func (r *reader) mapColumn() {
	col := r.hdrCol
	r.hdrCol = 0
	if col < firstDataColumn || r.overflow {
		return
	}

	s := types.FindSensor(r.sensors, string(r.tok))
	if s == nil {
		r.cols.set(col, slot{})
		return
	}

	k := r.assigned[s]
	idx, ok := usedIndex(s, k)
	if !ok {
		r.cols.set(col, slot{})
		return
	}
	r.assigned[s] = k + 1
	r.cols.set(col, slot{sensor: s, reading: idx, mapped: true})
	r.stats.Mapped++
}

// usedIndex returns the index in s.Readings of the k-th used reading.
func usedIndex(s *types.Sensor, k int) (int, bool) {
	for i, rd := range s.Readings {
		if !rd.Used {
			continue
		}
		if k == 0 {
			return i, true
		}
		k--
	}
	return 0, false
}

// applyValue interprets the completed token as the value of the next column.
func (r *reader) applyValue() error {
	r.col++
	if r.ts == 0 || r.overflow {
		r.stats.Skipped++
		return nil
	}

	sl, ok := r.cols.get(r.col)
	if !ok {
		r.stats.Skipped++
		return nil
	}

	v, kind := parseValue(r.tok)
	switch kind {
	case tokenMissing:
		r.stats.Missing++
		return nil
	case tokenInvalid:
		r.stats.Skipped++
		return nil
	}

	if sl.reading >= len(sl.sensor.Readings) {
		return &InvariantError{
			Op:     "read",
			Detail: fmt.Sprintf("column %d maps to reading %d of sensor %s which has %d", r.col, sl.reading, sl.sensor.ID, len(sl.sensor.Readings)),
		}
	}

	if r.counted[sl.sensor] != r.line {
		r.counted[sl.sensor] = r.line
		sl.sensor.Records++
	}
	sl.sensor.Readings[sl.reading].Set(v, r.ts)
	r.stats.Values++
	return nil
}
