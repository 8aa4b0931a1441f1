/*
Package tsfile reads and writes the per-day time-series data files.

Each controller appends one line per sampling cycle to a file named after
the local calendar day of the record:

	<prefix>-YYYYMMDD.dat      e.g. /var/lib/owlog/garden-20260307.dat
	YYYYMMDD.dat               empty prefix

# File Format

The file is plain text. Lines starting with '#' form a header section; every
other line is a data record:

	#owlog 1.0.0 (built 2026-03-01)
	#All time units are seconds since 00:00 1 Jan 1970 +0100 (CET)
	#Column 1 is the time stamp; column lines are #<n>:<sensor-id>:<format>:<unit>:<type>:<description>
	#2:28AABBCCDDEEFF12:%.1f:C:temperature:north wall temperature
	#3:26AABBCCDDEEFF34:%.1f:C:temperature:cellar temperature
	#4:26AABBCCDDEEFF34:%.0f:%:humidity:cellar humidity
	1741356000 4.5 11.2 78
	1741356060 4.4 ? 78

Column 1 is the Unix timestamp. Columns from 2 on follow the header order:
active sensors in list order, then each sensor's used readings in index
order. A reading that was not refreshed during the cycle is written as the
Sentinel byte.

A producer that restarts during the day appends a new header section. The
reader drops its column map whenever a header follows data, so every data
line is interpreted with the mapping in effect where it appears.

# Reader

Read drives a byte-at-a-time state machine over a fixed buffer refilled from
the source. The header and data phases are two pure transition functions,
(state, byte) → (state, action), sharing one refill loop. The reader never
holds more than one token in memory.

Reading a file restores, for every matched reading, the last value with its
timestamp and today's running extrema. Sentinel tokens, unknown sensors,
surplus columns and lines with a zero timestamp are skipped. A partially
written trailing line contributes the tokens completed before the end of
the file.

# Writer

Writer.Append opens the day's file in append mode, writes a header section
when the file is empty or on the first write of the run, writes the record,
and syncs before closing. Errors are returned to the engine, which counts
them as failed cycles.
*/
package tsfile
