package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
name: actigraph
date_row: 3
date_col: 2
date_regex: '\d{4}-\d{2}-\d{2}'
time_row: 4
time_col: 2
sensor_id_row: 2
sensor_id_col: 2
header_row: 6
comment_marker: "#"
timezone: Europe/Amsterdam
columns:
  - name: time
    data_type: relative_time
    unit: ms
  - name: ax
    data_type: numeric
    sensor_name: accelerometer
    sampling_rate: 100
    unit: g
    conversion: ax * 9.81
  - name: note
    data_type: text
`

func TestIndexZeroAndNumber(t *testing.T) {
	t.Parallel()

	idx := At(3)
	assert.True(t, idx.IsSet())
	assert.Equal(t, 3, idx.Number())
	z, ok := idx.Zero()
	assert.True(t, ok)
	assert.Equal(t, 2, z)

	none := Unset()
	assert.False(t, none.IsSet())
	_, ok = none.Zero()
	assert.False(t, ok)
	assert.Equal(t, "unset", none.String())
	assert.Equal(t, Index{}, none)
}

func TestIndexJSON(t *testing.T) {
	t.Parallel()

	var v struct {
		A Index `json:"a"`
		B Index `json:"b"`
		C Index `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 4, "b": null}`), &v))
	assert.Equal(t, At(4), v.A)
	assert.Equal(t, Unset(), v.B)
	assert.Equal(t, Unset(), v.C)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 4, "b": null, "c": null}`, string(out))

	for _, bad := range []string{`{"a": 0}`, `{"a": -1}`, `{"a": "x"}`} {
		err := json.Unmarshal([]byte(bad), &v)
		assert.Error(t, err, bad)
	}
}

func TestIndexYAML(t *testing.T) {
	t.Parallel()

	var v struct {
		A Index `yaml:"a"`
		B Index `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 2\nb: null\n"), &v))
	assert.Equal(t, At(2), v.A)
	assert.Equal(t, Unset(), v.B)

	err := yaml.Unmarshal([]byte("a: -1\n"), &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1-based")
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	m, err := DecodeYAML([]byte(sampleYAML))
	require.NoError(t, err)

	want := &SensorModel{
		Name:          "actigraph",
		DateRow:       At(3),
		DateCol:       At(2),
		DateRegex:     `\d{4}-\d{2}-\d{2}`,
		TimeRow:       At(4),
		TimeCol:       At(2),
		SensorIDRow:   At(2),
		SensorIDCol:   At(2),
		HeaderRow:     At(6),
		CommentMarker: "#",
		Timezone:      "Europe/Amsterdam",
		Columns: []ColumnSpec{
			{Name: "time", DataType: DataTypeRelativeTime, Unit: "ms"},
			{Name: "ax", DataType: DataTypeNumeric, SensorName: "accelerometer", SamplingRate: 100, Unit: "g", Conversion: "ax * 9.81"},
			{Name: "note", DataType: DataTypeText},
		},
	}
	if diff := cmp.Diff(want, m, cmp.AllowUnexported(Index{})); diff != "" {
		t.Fatalf("model mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 6, m.HeaderScanLines())
	assert.Len(t, m.ColumnsOfType(DataTypeNumeric), 1)

	spec, ok := m.Column("ax")
	require.True(t, ok)
	assert.Equal(t, "accelerometer", spec.SensorName)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		model SensorModel
		want  string
	}{
		{name: "missing header row", model: SensorModel{}, want: "header_row is required"},
		{name: "date col without row", model: SensorModel{HeaderRow: At(1), DateCol: At(1)}, want: "date_col set without date_row"},
		{name: "bad timezone", model: SensorModel{HeaderRow: At(1), Timezone: "Mars/Olympus"}, want: "timezone"},
		{name: "duplicate column", model: SensorModel{HeaderRow: At(1), Columns: []ColumnSpec{{Name: "a"}, {Name: "a"}}}, want: "duplicate column"},
		{name: "unknown type", model: SensorModel{HeaderRow: At(1), Columns: []ColumnSpec{{Name: "a", DataType: "blob"}}}, want: "unknown data_type"},
		{name: "bad unit", model: SensorModel{HeaderRow: At(1), Columns: []ColumnSpec{{Name: "t", DataType: DataTypeRelativeTime, Unit: "fortnight"}}}, want: "unknown time unit"},
		{name: "conversion on text", model: SensorModel{HeaderRow: At(1), Columns: []ColumnSpec{{Name: "n", DataType: DataTypeText, Conversion: "n * 2"}}}, want: "conversions only apply"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.model.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	ok := SensorModel{HeaderRow: At(1)}
	assert.NoError(t, ok.Validate())
}

func TestLoadSensorModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "model.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
		m, err := LoadSensorModel(path)
		require.NoError(t, err)
		assert.Equal(t, "actigraph", m.Name)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "model.json")
		body := `{"name":"csv","header_row":1,"date_row":null,"columns":[{"name":"x","data_type":"numeric"}]}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		m, err := LoadSensorModel(path)
		require.NoError(t, err)
		assert.False(t, m.DateRow.IsSet())
		assert.Equal(t, At(1), m.HeaderRow)
	})

	t.Run("wrong extension", func(t *testing.T) {
		_, err := LoadSensorModel(filepath.Join(dir, "model.toml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".yaml")
	})

	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(dir, "huge.yaml")
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("#", maxModelFileSize+1)), 0o644))
		_, err := LoadSensorModel(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: x\n"), 0o644))
		_, err := LoadSensorModel(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "header_row is required")
	})
}

func TestUnitDuration(t *testing.T) {
	t.Parallel()

	d, err := UnitDuration("ms")
	require.NoError(t, err)
	assert.Equal(t, "1ms", d.String())

	_, err = UnitDuration("weeks")
	assert.Error(t, err)
}
