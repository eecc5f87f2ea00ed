// Package config describes sensor models: where a file header keeps its date,
// time, sensor id and column names, and how each body column is typed and
// converted.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// DataType classifies a body column.
type DataType string

const (
	// DataTypeNumeric columns become numeric channels.
	DataTypeNumeric DataType = "numeric"
	// DataTypeText columns are kept verbatim and never aggregated.
	DataTypeText DataType = "text"
	// DataTypeRelativeTime columns hold offsets from the header base time, in Unit.
	DataTypeRelativeTime DataType = "relative_time"
	// DataTypeTimestamp columns hold absolute timestamps formatted per Unit.
	DataTypeTimestamp DataType = "timestamp"
)

// ColumnSpec is the per-column metadata of a sensor model.
type ColumnSpec struct {
	Name         string   `json:"name" yaml:"name"`
	DataType     DataType `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	SensorName   string   `json:"sensor_name,omitempty" yaml:"sensor_name,omitempty"`
	SamplingRate float64  `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty"`
	Unit         string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Conversion   string   `json:"conversion,omitempty" yaml:"conversion,omitempty"`
}

// SensorModel is read-only configuration supplied by the configuration store.
type SensorModel struct {
	Name string `json:"name" yaml:"name"`

	DateRow   Index  `json:"date_row" yaml:"date_row"`
	DateCol   Index  `json:"date_col" yaml:"date_col"`
	DateRegex string `json:"date_regex,omitempty" yaml:"date_regex,omitempty"`
	TimeRow   Index  `json:"time_row" yaml:"time_row"`
	TimeCol   Index  `json:"time_col" yaml:"time_col"`
	TimeRegex string `json:"time_regex,omitempty" yaml:"time_regex,omitempty"`

	SensorIDRow   Index  `json:"sensor_id_row" yaml:"sensor_id_row"`
	SensorIDCol   Index  `json:"sensor_id_col" yaml:"sensor_id_col"`
	SensorIDRegex string `json:"sensor_id_regex,omitempty" yaml:"sensor_id_regex,omitempty"`

	HeaderRow     Index  `json:"header_row" yaml:"header_row"`
	CommentMarker string `json:"comment_marker,omitempty" yaml:"comment_marker,omitempty"`
	Timezone      string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	Columns []ColumnSpec `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Column returns the column metadata for name, if any.
func (m *SensorModel) Column(name string) (ColumnSpec, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ColumnsOfType returns the specs with the given data type, in model order.
func (m *SensorModel) ColumnsOfType(t DataType) []ColumnSpec {
	var out []ColumnSpec
	for _, c := range m.Columns {
		if c.DataType == t {
			out = append(out, c)
		}
	}
	return out
}

// HeaderScanLines is the number of leading lines the header parser needs to
// read to resolve every configured position.
func (m *SensorModel) HeaderScanLines() int {
	max := 0
	for _, idx := range []Index{m.DateRow, m.TimeRow, m.SensorIDRow, m.HeaderRow} {
		if idx.Number() > max {
			max = idx.Number()
		}
	}
	return max
}

// Validate checks the model for contradictions.
func (m *SensorModel) Validate() error {
	var errs []error
	if !m.HeaderRow.IsSet() {
		errs = append(errs, errors.New("header_row is required"))
	}
	if m.DateCol.IsSet() && !m.DateRow.IsSet() {
		errs = append(errs, errors.New("date_col set without date_row"))
	}
	if m.TimeCol.IsSet() && !m.TimeRow.IsSet() {
		errs = append(errs, errors.New("time_col set without time_row"))
	}
	if m.SensorIDCol.IsSet() && !m.SensorIDRow.IsSet() {
		errs = append(errs, errors.New("sensor_id_col set without sensor_id_row"))
	}
	if m.Timezone != "" {
		if _, err := time.LoadLocation(m.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", m.Timezone, err))
		}
	}
	seen := make(map[string]struct{}, len(m.Columns))
	for i, c := range m.Columns {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Errorf("columns[%d]: name is required", i))
			continue
		}
		if _, dup := seen[c.Name]; dup {
			errs = append(errs, fmt.Errorf("columns[%d]: duplicate column %q", i, c.Name))
		}
		seen[c.Name] = struct{}{}
		switch c.DataType {
		case "", DataTypeNumeric, DataTypeText:
		case DataTypeRelativeTime:
			if _, err := UnitDuration(c.Unit); err != nil {
				errs = append(errs, fmt.Errorf("columns[%d] %q: %w", i, c.Name, err))
			}
		case DataTypeTimestamp:
			if strings.TrimSpace(c.Unit) == "" {
				errs = append(errs, fmt.Errorf("columns[%d] %q: timestamp columns need a layout in unit", i, c.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("columns[%d] %q: unknown data_type %q", i, c.Name, c.DataType))
		}
		if c.Conversion != "" && c.DataType != "" && c.DataType != DataTypeNumeric {
			errs = append(errs, fmt.Errorf("columns[%d] %q: conversions only apply to numeric columns", i, c.Name))
		}
	}
	return errors.Join(errs...)
}

// UnitDuration maps a relative-time unit name to its duration.
func UnitDuration(unit string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "ns":
		return time.Nanosecond, nil
	case "us", "µs":
		return time.Microsecond, nil
	case "ms":
		return time.Millisecond, nil
	case "s", "sec", "":
		return time.Second, nil
	case "min", "m":
		return time.Minute, nil
	case "h":
		return time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit %q (expected ns|us|ms|s|min|h)", unit)
	}
}

const maxModelFileSize = 1 << 20

// LoadSensorModel reads a sensor model from a .yaml, .yml or .json file and
// validates it.
func LoadSensorModel(path string) (*SensorModel, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, fmt.Errorf("sensor model file must be .yaml, .yml or .json, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat sensor model: %w", err)
	}
	if info.Size() > maxModelFileSize {
		return nil, fmt.Errorf("sensor model file too large: %d bytes (max %d)", info.Size(), maxModelFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read sensor model: %w", err)
	}

	var m *SensorModel
	if ext == ".json" {
		m, err = DecodeJSON(data)
	} else {
		m, err = DecodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return m, nil
}

// DecodeJSON decodes and validates a JSON sensor model.
func DecodeJSON(data []byte) (*SensorModel, error) {
	var m SensorModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode sensor model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sensor model: %w", err)
	}
	return &m, nil
}

// DecodeYAML decodes and validates a YAML sensor model.
func DecodeYAML(data []byte) (*SensorModel, error) {
	var m SensorModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode sensor model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sensor model: %w", err)
	}
	return &m, nil
}
