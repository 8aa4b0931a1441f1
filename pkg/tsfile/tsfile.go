package tsfile

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/owlog/pkg/types"
)

const (
	// Sentinel is the token written in place of a value that was not read
	Sentinel = '?'

	// Extension of every data file
	Extension = ".dat"

	// DefaultFormat is used for readings without a print format
	DefaultFormat = "%g"

	// firstDataColumn is the column of the first reading; column 1 is the timestamp
	firstDataColumn = 2
)

var (
	// ErrNoFile reports that the data file for the requested day does not exist.
	// It is a normal condition on the first run of a day.
	ErrNoFile = errors.New("no data file")
)

// InvariantError reports an internal inconsistency of the codec, as opposed
// to a problem with the environment. It indicates a bug.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("tsfile %s: invariant violated: %s", e.Op, e.Detail)
}

// Path returns the data file for the local calendar day of t:
// <prefix>-YYYYMMDD.dat, or YYYYMMDD.dat for an empty prefix.
func Path(prefix string, t time.Time) string {
	day := t.Format("20060102")
	if prefix == "" {
		return day + Extension
	}
	if prefix[len(prefix)-1] == filepath.Separator {
		return prefix + day + Extension
	}
	return prefix + "-" + day + Extension
}

// DaysAgo returns local midnight n calendar days before t
func DaysAgo(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d-n, 0, 0, 0, 0, t.Location())
}

// column is one persisted (sensor, reading) pair
type column struct {
	sensor  *types.Sensor
	reading *types.Reading
}

// columns lists the persisted columns in file order: active sensors in list
// order, then used reading slots in ascending index order. The first entry
// is column 2.
func columns(sensors []*types.Sensor) []column {
	var cols []column
	for _, s := range sensors {
		if !s.Active() {
			continue
		}
		for _, r := range s.UsedReadings() {
			cols = append(cols, column{sensor: s, reading: r})
		}
	}
	return cols
}
