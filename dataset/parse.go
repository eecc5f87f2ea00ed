package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/expr"
	"github.com/lucasjlepore/sensor-labeler/header"
)

// ValueError reports a body cell that does not fit its column type.
type ValueError struct {
	Line   int // 1-based physical line
	Column string
	Value  string
	Err    error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("line %d column %q: cannot use %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *ValueError) Unwrap() error { return e.Err }

// Parse reads the header and body of the file at path.
func Parse(path string, model *config.SensorModel) (*Dataset, *header.Metadata, error) {
	md, err := header.Parse(path, model)
	if err != nil {
		return nil, nil, fmt.Errorf("parse header: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	ds, err := ReadBody(f, md, model)
	if err != nil {
		return nil, nil, err
	}
	return ds, md, nil
}

// ReadBody reads the data rows of r, which must be positioned at the start of
// the file, using column names from md. Conversion formulas are applied in
// column order.
func ReadBody(r io.Reader, md *header.Metadata, model *config.SensorModel) (*Dataset, error) {
	body, lineNos, err := bodyLines(r, model)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(bytes.NewReader(body))
	cr.FieldsPerRecord = len(md.Columns)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	raw := make([][]string, len(md.Columns))
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) && pe.Line-1 < len(lineNos) {
				return nil, fmt.Errorf("body line %d: %w", lineNos[pe.Line-1], pe.Err)
			}
			return nil, fmt.Errorf("read body: %w", err)
		}
		for j, cell := range rec {
			raw[j] = append(raw[j], strings.TrimSpace(cell))
		}
	}

	ds := New(md, model)
	for j, name := range md.Columns {
		spec, _ := model.Column(name)
		switch spec.DataType {
		case config.DataTypeText, config.DataTypeTimestamp:
			err = ds.AddTextColumn(name, raw[j])
		case config.DataTypeNumeric, config.DataTypeRelativeTime:
			var values []float64
			values, err = parseFloats(name, raw[j], lineNos)
			if err == nil {
				err = ds.AddChannel(name, values)
			}
		default:
			if values, perr := parseFloats(name, raw[j], lineNos); perr == nil {
				err = ds.AddChannel(name, values)
			} else {
				err = ds.AddTextColumn(name, raw[j])
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if len(md.Columns) == 0 {
		return ds, nil
	}
	if err := ds.applyConversions(); err != nil {
		return nil, err
	}
	return ds, nil
}

// bodyLines returns the data lines below the header row with comment lines
// and blank lines removed, plus the physical line number of each.
func bodyLines(r io.Reader, model *config.SensorModel) ([]byte, []int, error) {
	headerRow := model.HeaderRow.Number()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	var (
		buf     bytes.Buffer
		lineNos []int
	)
	for line := 1; sc.Scan(); line++ {
		if line <= headerRow {
			continue
		}
		text := strings.TrimSuffix(sc.Text(), "\r")
		if model.CommentMarker != "" && strings.HasPrefix(text, model.CommentMarker) {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		buf.WriteString(text)
		buf.WriteByte('\n')
		lineNos = append(lineNos, line)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan body: %w", err)
	}
	return buf.Bytes(), lineNos, nil
}

func parseFloats(name string, cells []string, lineNos []int) ([]float64, error) {
	out := make([]float64, len(cells))
	for i, cell := range cells {
		if cell == "" || strings.EqualFold(cell, "nan") {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, &ValueError{Line: lineNos[i], Column: name, Value: cell, Err: err}
		}
		out[i] = v
	}
	return out, nil
}

// applyConversions rewrites each numeric column that has a conversion
// formula. The formula sees earlier conversions and, under the column's own
// name, the column's unconverted values.
func (d *Dataset) applyConversions() error {
	if d.Model == nil {
		return nil
	}
	for _, c := range d.channels {
		spec, ok := d.Model.Column(c.Name)
		if !ok || spec.Conversion == "" {
			continue
		}
		e, err := expr.Compile(spec.Conversion)
		if err != nil {
			return fmt.Errorf("conversion for %q: %w", c.Name, err)
		}
		values, err := e.EvalColumns(d.columnMap(), d.n)
		if err != nil {
			return fmt.Errorf("conversion for %q: %w", c.Name, err)
		}
		c.Values = values
		c.Expr = e
	}
	return nil
}
