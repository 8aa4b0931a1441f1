package tsfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/owlog/pkg/types"
)

// WriterOptions describes the producing program in the header preamble
type WriterOptions struct {
	Program   string
	Version   string
	BuildDate string
	Location  *time.Location // Time zone of file names and the preamble; nil means local
}

// Writer appends one record per sampling cycle to the per-day data file.
// A Writer is used by one engine at a time.
type Writer struct {
	prefix string
	opts   WriterOptions

	// lastPath is the file written most recently during this run. The first
	// write of a run to any file starts a new header section.
	lastPath string
}

// NewWriter creates a writer for files named with prefix
func NewWriter(prefix string, opts WriterOptions) *Writer {
	if opts.Program == "" {
		opts.Program = "owlog"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Writer{prefix: prefix, opts: opts}
}

// PathFor returns the file a record with timestamp ts is appended to
func (w *Writer) PathFor(ts int64) string {
	return Path(w.prefix, time.Unix(ts, 0).In(w.opts.Location))
}

// Append writes the record for timestamp ts: one token per used reading of
// every active sensor, the Sentinel where a reading was not refreshed this
// cycle. A header section is written first when the file is new or this is
// the first write of the run. The data is synced before the file is closed.
func (w *Writer) Append(sensors []*types.Sensor, ts int64) error {
	path := w.PathFor(ts)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cols := columns(sensors)
	bw := bufio.NewWriter(f)

	if info.Size() == 0 || path != w.lastPath {
		w.writeHeader(bw, cols, ts)
	}
	writeRecord(bw, cols, ts)

	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	w.lastPath = path
	return nil
}

// writeHeader emits the preamble and one column line per persisted reading.
func (w *Writer) writeHeader(bw *bufio.Writer, cols []column, ts int64) {
	fmt.Fprintf(bw, "#%s %s", w.opts.Program, orDefault(w.opts.Version, "dev"))
	if w.opts.BuildDate != "" {
		fmt.Fprintf(bw, " (built %s)", w.opts.BuildDate)
	}
	bw.WriteByte('\n')

	zone := time.Unix(ts, 0).In(w.opts.Location).Format("-0700 (MST)")
	fmt.Fprintf(bw, "#All time units are seconds since 00:00 1 Jan 1970 %s\n", zone)
	bw.WriteString("#Column 1 is the time stamp; column lines are #<n>:<sensor-id>:<format>:<unit>:<type>:<description>\n")

	for i, c := range cols {
		format := c.reading.Format
		if !ValidFormat(format) {
			format = DefaultFormat
		}
		fmt.Fprintf(bw, "#%d:%s:%s:%s:%s:%s\n",
			i+firstDataColumn,
			c.sensor.ID,
			format,
			sanitize(c.reading.Unit),
			sanitize(string(c.reading.Type)),
			description(c.sensor, c.reading),
		)
	}
}

// writeRecord emits one data line.
func writeRecord(bw *bufio.Writer, cols []column, ts int64) {
	bw.WriteString(strconv.FormatInt(ts, 10))
	for _, c := range cols {
		bw.WriteByte(' ')
		bw.WriteString(formatValue(c.reading))
	}
	bw.WriteByte('\n')
}

// formatValue renders a reading with its print format, or the Sentinel when
// it holds no reading from the running cycle.
func formatValue(r *types.Reading) string {
	if !r.Current || !r.Valid {
		return string(Sentinel)
	}
	if s, ok := render(r.Format, r.Value); ok {
		return s
	}
	return strconv.FormatFloat(r.Value, 'g', -1, 64)
}

// render formats v and reports whether the reader accepts the result as a
// number.
func render(format string, v float64) (string, bool) {
	s := strings.TrimSpace(fmt.Sprintf(orDefault(format, DefaultFormat), v))
	if _, kind := parseValue([]byte(s)); kind != tokenNumber {
		return "", false
	}
	return s, true
}

// ValidFormat reports whether format renders values the reader can restore.
// An empty format selects DefaultFormat.
func ValidFormat(format string) bool {
	for _, v := range []float64{0, -12.5, 1013.25} {
		if _, ok := render(format, v); !ok {
			return false
		}
	}
	return true
}

func description(s *types.Sensor, r *types.Reading) string {
	d := r.Name
	if s.Location != "" {
		d = s.Location + " " + r.Name
	}
	return sanitize(d)
}

// sanitize keeps header fields on one line
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
