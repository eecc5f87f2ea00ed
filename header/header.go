// Package header locates metadata fields in the loosely structured header of
// instrument log files.
//
// Rows and columns are addressed with 1-based config.Index values. Every
// scanned line has the comment marker prefix removed before it is split into
// comma separated fields.
package header

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/lucasjlepore/sensor-labeler/config"
)

// Header holds the first lines of a file with comment markers stripped.
type Header struct {
	lines []string
}

// Read scans up to maxLines lines from r. A maxLines of 0 or less reads to EOF.
func Read(r io.Reader, commentMarker string, maxLines int) (*Header, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	h := &Header{}
	for sc.Scan() {
		if maxLines > 0 && len(h.lines) == maxLines {
			break
		}
		h.lines = append(h.lines, StripComment(sc.Text(), commentMarker))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan header: %w", err)
	}
	return h, nil
}

// Open reads the header of the file at path.
func Open(path, commentMarker string, maxLines int) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return Read(f, commentMarker, maxLines)
}

// StripComment removes a leading comment marker, if present.
func StripComment(line, marker string) string {
	line = strings.TrimSuffix(line, "\r")
	if marker == "" {
		return line
	}
	return strings.TrimPrefix(line, marker)
}

// Len returns the number of scanned lines.
func (h *Header) Len() int { return len(h.lines) }

// Line returns a stripped line by 1-based row.
func (h *Header) Line(row config.Index) (string, error) {
	i, ok := row.Zero()
	if !ok {
		return "", ErrUnsetRow
	}
	if i >= len(h.lines) {
		return "", &RowOutOfRangeError{Row: row.Number(), Lines: len(h.lines)}
	}
	return h.lines[i], nil
}

// Field returns one trimmed comma separated field. An absent column returns
// the whole trimmed line.
func (h *Header) Field(row, col config.Index) (string, error) {
	line, err := h.Line(row)
	if err != nil {
		return "", err
	}
	j, ok := col.Zero()
	if !ok {
		return strings.TrimSpace(line), nil
	}
	fields := splitFields(line)
	if j >= len(fields) {
		return "", &ColumnOutOfRangeError{Row: row.Number(), Column: col.Number(), Fields: len(fields)}
	}
	return fields[j], nil
}

// ColumnNames returns the trimmed fields of row in order.
func (h *Header) ColumnNames(row config.Index) ([]string, error) {
	line, err := h.Line(row)
	if err != nil {
		return nil, err
	}
	return splitFields(line), nil
}

// SensorID returns the sensor id field, reduced by the model's regex when
// one is configured.
func (h *Header) SensorID(m *config.SensorModel) (string, error) {
	if !m.SensorIDRow.IsSet() {
		return "", ErrSensorIDDisabled
	}
	field, err := h.Field(m.SensorIDRow, m.SensorIDCol)
	if err != nil {
		return "", fmt.Errorf("sensor id: %w", err)
	}
	if m.SensorIDRegex == "" {
		return field, nil
	}
	id, err := extract(m.SensorIDRegex, field)
	if err != nil {
		return "", fmt.Errorf("sensor id: %w", err)
	}
	return id, nil
}

// DateTime combines the date and time tokens into one naive time in UTC.
// A model without a time row yields midnight of the parsed date.
func (h *Header) DateTime(m *config.SensorModel) (time.Time, error) {
	if !m.DateRow.IsSet() {
		return time.Time{}, ErrDateTimeDisabled
	}
	dateTok, err := h.token("date", m.DateRow, m.DateCol, m.DateRegex, defaultDatePattern)
	if err != nil {
		return time.Time{}, fmt.Errorf("date: %w", err)
	}
	date, err := resolve("date", dateTok, dateLayouts)
	if err != nil {
		return time.Time{}, err
	}
	if !m.TimeRow.IsSet() {
		return date, nil
	}
	timeTok, err := h.token("time", m.TimeRow, m.TimeCol, m.TimeRegex, defaultTimePattern)
	if err != nil {
		return time.Time{}, fmt.Errorf("time: %w", err)
	}
	clock, err := resolve("time", timeTok, timeLayouts)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), time.UTC), nil
}

// token returns the field for row/col narrowed by pattern, then by fallback,
// which picks a date or time out of surrounding text. A pattern miss leaves
// no candidate and is reported as *AmbiguousDateTimeError.
func (h *Header) token(name string, row, col config.Index, pattern string, fallback *regexp.Regexp) (string, error) {
	field, err := h.Field(row, col)
	if err != nil {
		return "", err
	}
	if pattern != "" {
		tok, err := extract(pattern, field)
		if errors.Is(err, ErrNoMatch) {
			return "", &AmbiguousDateTimeError{Field: name, Token: field, Err: err}
		}
		if err != nil {
			return "", err
		}
		field = tok
	}
	if m := fallback.FindString(field); m != "" && m != field {
		return m, nil
	}
	return field, nil
}

// extract returns the first capture group of pattern in s, or the whole match
// when the pattern has no groups.
func extract(pattern, s string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q in %q", ErrNoMatch, pattern, s)
	}
	if len(m) > 1 {
		return strings.TrimSpace(m[1]), nil
	}
	return strings.TrimSpace(m[0]), nil
}

func splitFields(line string) []string {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(strings.Trim(strings.TrimSpace(fields[i]), `"`))
	}
	return fields
}
