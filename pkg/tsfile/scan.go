package tsfile

import (
	"math"
	"strconv"
)

// state is the position of the reader within the line grammar.
type state uint8

const (
	stLineStart state = iota // first byte of a line decides header or data

	// Header phase: #<n>:<id>:<format>:<unit>:<type>:<description>
	stHdrColumn // digits of <n>
	stHdrID     // bytes of <id>

	// Data phase: <timestamp> <value>...
	stTimestamp // digits of the timestamp
	stGap       // whitespace between tokens
	stValue     // bytes of one value token

	stSkipLine // discard up to end of line
)

// action is the side effect the reader performs for one transition.
type action uint8

const (
	actNone        action = iota
	actHeaderLine         // '#' at line start
	actDataLine           // digit at line start, first timestamp byte
	actAccumulate         // append the byte to the current token
	actHdrComment         // header line that is not a column line
	actHdrColumn          // column number complete
	actHdrID              // sensor id complete, map the column
	actTimestamp          // timestamp complete, values follow
	actTimestampEOL       // timestamp complete, line ended
	actValue              // value token complete
	actValueEOL           // value token complete, line ended
)

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isBlank(c byte) bool { return c == ' ' || c == '\t' || c == '\r' }

// lineStartStep dispatches the first byte of a line to one of the phases.
func lineStartStep(c byte) (state, action) {
	switch {
	case c == '#':
		return stHdrColumn, actHeaderLine
	case isDigit(c):
		return stTimestamp, actDataLine
	case c == '\n':
		return stLineStart, actNone
	default:
		return stSkipLine, actNone
	}
}

// headerStep is the transition function of the header phase.
func headerStep(s state, c byte) (state, action) {
	if c == '\n' {
		if s == stHdrColumn {
			return stLineStart, actHdrComment
		}
		return stLineStart, actNone
	}
	switch s {
	case stHdrColumn:
		switch {
		case isDigit(c):
			return stHdrColumn, actAccumulate
		case c == ':':
			return stHdrID, actHdrColumn
		default:
			// Preamble comment or malformed column line.
			return stSkipLine, actHdrComment
		}
	case stHdrID:
		if c == ':' {
			// format, unit, type and description are informational only
			return stSkipLine, actHdrID
		}
		return stHdrID, actAccumulate
	default:
		return stSkipLine, actNone
	}
}

// dataStep is the transition function of the data phase.
func dataStep(s state, c byte) (state, action) {
	switch s {
	case stTimestamp:
		switch {
		case isDigit(c):
			return stTimestamp, actAccumulate
		case c == '\n':
			return stLineStart, actTimestampEOL
		case isBlank(c):
			return stGap, actTimestamp
		default:
			return stSkipLine, actNone
		}
	case stGap:
		switch {
		case c == '\n':
			return stLineStart, actNone
		case isBlank(c):
			return stGap, actNone
		default:
			return stValue, actAccumulate
		}
	case stValue:
		switch {
		case c == '\n':
			return stLineStart, actValueEOL
		case isBlank(c):
			return stGap, actValue
		default:
			return stValue, actAccumulate
		}
	default:
		if c == '\n' {
			return stLineStart, actNone
		}
		return stSkipLine, actNone
	}
}

// step selects the transition table for the current state.
func step(s state, c byte) (state, action) {
	switch s {
	case stLineStart:
		return lineStartStep(c)
	case stHdrColumn, stHdrID:
		return headerStep(s, c)
	default:
		return dataStep(s, c)
	}
}

// tokenKind classifies a value token.
type tokenKind uint8

const (
	tokenInvalid tokenKind = iota
	tokenNumber
	tokenMissing
)

// parseValue parses a value token of the restricted literal grammar
//
//	[+-] digits [ . digits ] [ (E|e|D|d) [+-] digits ]
//
// where at least one mantissa digit is required on either side of the
// point. The single Sentinel byte denotes a missing value. Values that
// overflow saturate to ±math.MaxFloat64; underflow yields zero.
func parseValue(tok []byte) (float64, tokenKind) {
	if len(tok) == 1 && tok[0] == Sentinel {
		return 0, tokenMissing
	}

	i := 0
	if i < len(tok) && (tok[i] == '+' || tok[i] == '-') {
		i++
	}
	mantissa := 0
	for i < len(tok) && isDigit(tok[i]) {
		i++
		mantissa++
	}
	if i < len(tok) && tok[i] == '.' {
		i++
		for i < len(tok) && isDigit(tok[i]) {
			i++
			mantissa++
		}
	}
	if mantissa == 0 {
		return 0, tokenInvalid
	}

	expAt := -1
	if i < len(tok) {
		switch tok[i] {
		case 'E', 'e', 'D', 'd':
			expAt = i
		default:
			return 0, tokenInvalid
		}
		i++
		if i < len(tok) && (tok[i] == '+' || tok[i] == '-') {
			i++
		}
		digits := 0
		for i < len(tok) && isDigit(tok[i]) {
			i++
			digits++
		}
		if digits == 0 || i != len(tok) {
			return 0, tokenInvalid
		}
	}

	lit := string(tok)
	if expAt >= 0 {
		b := []byte(lit)
		b[expAt] = 'e'
		lit = string(b)
	}

	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		// The grammar was checked above, so only range errors remain.
		switch {
		case math.IsInf(v, 1):
			return math.MaxFloat64, tokenNumber
		case math.IsInf(v, -1):
			return -math.MaxFloat64, tokenNumber
		default:
			return v, tokenNumber
		}
	}
	return v, tokenNumber
}

// parseTimestamp parses the decimal timestamp column. Overflow is reported
// as zero, which makes the reader skip the line.
func parseTimestamp(tok []byte) int64 {
	ts, err := strconv.ParseInt(string(tok), 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
