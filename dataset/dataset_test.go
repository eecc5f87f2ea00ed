package dataset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"

	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/expr"
	"github.com/lucasjlepore/sensor-labeler/header"
)

const sampleFile = `# Logger export
# Serial:,SN:CCDC3016AE9D6B4
# Date:,2018-05-15
# Time:,08:54:32.261
time_ms,ax,ay,note
0,1,10,start
# marker inserted by logger
500,2,20,
1000,3,30,x

1500,4,,y
`

func sampleModel() *config.SensorModel {
	return &config.SensorModel{
		Name:          "logger",
		SensorIDRow:   config.At(2),
		SensorIDCol:   config.At(2),
		DateRow:       config.At(3),
		DateCol:       config.At(2),
		TimeRow:       config.At(4),
		TimeCol:       config.At(2),
		HeaderRow:     config.At(5),
		CommentMarker: "#",
		Columns: []config.ColumnSpec{
			{Name: "time_ms", DataType: config.DataTypeRelativeTime, Unit: "ms"},
			{Name: "ax", DataType: config.DataTypeNumeric, Conversion: "ax * 10"},
			{Name: "ay", DataType: config.DataTypeNumeric, Conversion: "ay + ax"},
			{Name: "note", DataType: config.DataTypeText},
		},
	}
}

func writeSample(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func parseSample(t *testing.T) *Dataset {
	t.Helper()
	ds, _, err := Parse(writeSample(t, sampleFile), sampleModel())
	require.NoError(t, err)
	return ds
}

var base = time.Date(2018, 5, 15, 8, 54, 32, 261_000_000, time.UTC)

func TestParseAppliesConversionsInColumnOrder(t *testing.T) {
	t.Parallel()

	ds, md, err := Parse(writeSample(t, sampleFile), sampleModel())
	require.NoError(t, err)
	assert.Equal(t, "SN:CCDC3016AE9D6B4", md.SensorID)
	assert.Equal(t, base, md.BaseTime)

	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, []string{"time_ms", "ax", "ay"}, ds.ChannelNames())
	assert.Equal(t, []string{"note"}, ds.TextNames())

	ax, ok := ds.Channel("ax")
	require.True(t, ok)
	assert.Equal(t, []float64{10, 20, 30, 40}, ax.Values)
	require.NotNil(t, ax.Expr)
	assert.Equal(t, "(ax * 10)", ax.Expr.String())

	// ay sees the converted ax and its own raw values.
	ay, _ := ds.Channel("ay")
	assert.Equal(t, []float64{20, 40, 60}, ay.Values[:3])
	assert.True(t, math.IsNaN(ay.Values[3]))

	note, ok := ds.Text("note")
	require.True(t, ok)
	assert.Equal(t, []string{"start", "", "x", "y"}, note)
}

func TestParseReportsBadCells(t *testing.T) {
	t.Parallel()

	body := strings.Replace(sampleFile, "1000,3,30,x", "1000,three,30,x", 1)
	_, _, err := Parse(writeSample(t, body), sampleModel())
	var ve *ValueError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "ax", ve.Column)
	assert.Equal(t, 9, ve.Line)

	bad := sampleModel()
	bad.Columns[1].Conversion = "ax * -1"
	_, _, err = Parse(writeSample(t, sampleFile), bad)
	var syn *expr.SyntaxError
	assert.True(t, errors.As(err, &syn))
}

func TestAddAbsoluteDatetimeColumnFromRelativeOffsets(t *testing.T) {
	t.Parallel()

	ds := parseSample(t)
	require.NoError(t, ds.AddAbsoluteDatetimeColumn())
	want := []time.Time{base, base.Add(500 * time.Millisecond), base.Add(time.Second), base.Add(1500 * time.Millisecond)}
	assert.Equal(t, want, ds.Timestamps())
}

func TestAddAbsoluteDatetimeColumnFromTimestampColumn(t *testing.T) {
	t.Parallel()

	body := "ts,v\n2024-03-01T10:00:00Z,1\n2024-03-01T10:00:01Z,2\n"
	model := &config.SensorModel{
		HeaderRow: config.At(1),
		Columns: []config.ColumnSpec{
			{Name: "ts", DataType: config.DataTypeTimestamp, Unit: "rfc3339"},
			{Name: "v", DataType: config.DataTypeNumeric},
		},
	}
	ds, md, err := Parse(writeSample(t, body), model)
	require.NoError(t, err)
	assert.False(t, md.HasBaseTime())
	require.NoError(t, ds.AddAbsoluteDatetimeColumn())
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC), ds.Timestamps()[1])
}

func TestAddAbsoluteDatetimeColumnWithoutSource(t *testing.T) {
	t.Parallel()

	body := "a,b\n1,2\n3,4\n"
	ds, _, err := Parse(writeSample(t, body), &config.SensorModel{HeaderRow: config.At(1)})
	require.NoError(t, err)
	assert.ErrorIs(t, ds.AddAbsoluteDatetimeColumn(), ErrNoTimestampSource)
	assert.False(t, ds.HasTimestamps())

	assert.ErrorIs(t, ds.AddTimestampColumn("a", "s"), ErrNoTimestampSource)
	assert.ErrorIs(t, ds.AddTimestampColumn("nope", "s"), ErrUnknownColumn)
}

func TestAddTimestampColumnUnits(t *testing.T) {
	t.Parallel()

	md := &header.Metadata{BaseTime: base}
	ds := New(md, nil)
	require.NoError(t, ds.AddChannel("t", []float64{0, 1.5, 3}))
	require.NoError(t, ds.AddTimestampColumn("t", "s"))
	assert.Equal(t, base.Add(1500*time.Millisecond), ds.Timestamps()[1])

	require.NoError(t, ds.AddChannel("gap", []float64{0, math.NaN(), 1}))
	assert.Error(t, ds.AddTimestampColumn("gap", "s"))
	assert.Error(t, ds.AddTimestampColumn("t", "parsecs"))
}

func TestAddDerivedColumn(t *testing.T) {
	t.Parallel()

	ds := parseSample(t)
	require.NoError(t, ds.AddDerivedColumn("mag", "sqrt(ax ^ 2 + ay ^ 2)"))
	mag, ok := ds.Channel("mag")
	require.True(t, ok)
	assert.InDelta(t, math.Sqrt(10*10+20*20), mag.Values[0], 1e-9)
	assert.Equal(t, []string{"time_ms", "ax", "ay", "mag"}, ds.ChannelNames())

	assert.ErrorIs(t, ds.AddDerivedColumn("ax", "ay"), ErrDuplicateColumn)
	assert.ErrorIs(t, ds.AddDerivedColumn("note", "ay"), ErrDuplicateColumn)

	var syn *expr.SyntaxError
	assert.True(t, errors.As(ds.AddDerivedColumn("bad", "ax /"), &syn))

	var evalErr *expr.EvalError
	assert.True(t, errors.As(ds.AddDerivedColumn("bad", "az * 2"), &evalErr))
	_, exists := ds.Channel("bad")
	assert.False(t, exists)
}

func labeledFixture(t *testing.T) *Dataset {
	t.Helper()
	ds := New(nil, nil)
	ts := make([]time.Time, 10)
	values := make([]float64, 10)
	for i := range ts {
		ts[i] = base.Add(time.Duration(i) * time.Second)
		values[i] = float64(i)
	}
	require.NoError(t, ds.AddChannel("v", values))
	require.NoError(t, ds.SetTimestamps(ts))
	return ds
}

func TestAddLabelsFirstSpanWins(t *testing.T) {
	t.Parallel()

	ds := labeledFixture(t)
	spans := []LabelSpan{
		{Start: base.Add(2 * time.Second), End: base.Add(5 * time.Second), Activity: "walk"},
		{Start: base.Add(4 * time.Second), End: base.Add(7 * time.Second), Activity: "run"},
	}
	require.NoError(t, ds.AddLabels(spans))
	want := []string{"", "", "walk", "walk", "walk", "run", "run", "", "", ""}
	assert.Equal(t, want, ds.Labels())
}

func TestAddLabelsIsIdempotent(t *testing.T) {
	t.Parallel()

	ds := labeledFixture(t)
	spans := []LabelSpan{
		{Start: base.Add(1 * time.Second), End: base.Add(3 * time.Second), Activity: "sit"},
		{Start: base.Add(6 * time.Second), End: base.Add(20 * time.Second), Activity: "stand"},
	}
	require.NoError(t, ds.AddLabels(spans))
	first := append([]string(nil), ds.Labels()...)
	require.NoError(t, ds.AddLabels(spans))
	if diff := cmp.Diff(first, ds.Labels()); diff != "" {
		t.Fatalf("labels changed on second call (-first +second):\n%s", diff)
	}
}

func TestAddLabelsValidation(t *testing.T) {
	t.Parallel()

	ds := labeledFixture(t)
	err := ds.AddLabels([]LabelSpan{{Start: base, End: base.Add(time.Second), Activity: Unlabeled}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty activity")

	err = ds.AddLabels([]LabelSpan{{Start: base.Add(time.Second), End: base, Activity: "x"}})
	require.Error(t, err)
	assert.False(t, ds.HasLabels())

	noTime := New(nil, nil)
	require.NoError(t, noTime.AddChannel("v", []float64{1}))
	assert.ErrorIs(t, noTime.AddLabels(nil), ErrNoTimestamps)
}

func csvString(t *testing.T, ds *Dataset) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, ds.WriteCSV(&buf))
	return buf.String()
}

func TestFilterBetweenDatesChains(t *testing.T) {
	t.Parallel()

	chained := labeledFixture(t)
	require.NoError(t, chained.AddLabels([]LabelSpan{{Start: base, End: base.Add(4 * time.Second), Activity: "a"}}))
	require.NoError(t, chained.FilterBetweenDates(base.Add(1*time.Second), base.Add(9*time.Second)))
	require.NoError(t, chained.FilterBetweenDates(base.Add(3*time.Second), base.Add(6*time.Second)))

	single := labeledFixture(t)
	require.NoError(t, single.AddLabels([]LabelSpan{{Start: base, End: base.Add(4 * time.Second), Activity: "a"}}))
	require.NoError(t, single.FilterBetweenDates(base.Add(3*time.Second), base.Add(6*time.Second)))

	assert.Equal(t, 3, single.Len())
	assert.Equal(t, csvString(t, single), csvString(t, chained))

	v, _ := single.Channel("v")
	assert.Equal(t, []float64{3, 4, 5}, v.Values)
	assert.Equal(t, []string{"a", "", ""}, single.Labels())
}

func TestSliceSharesRows(t *testing.T) {
	t.Parallel()

	ds := labeledFixture(t)
	sub := ds.Slice(2, 5)
	assert.Equal(t, 3, sub.Len())
	v, _ := sub.Channel("v")
	assert.Equal(t, []float64{2, 3, 4}, v.Values)
	assert.Equal(t, base.Add(2*time.Second), sub.Timestamps()[0])
	assert.False(t, sub.HasLabels())
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	ds := parseSample(t)
	require.NoError(t, ds.AddAbsoluteDatetimeColumn())
	require.NoError(t, ds.AddLabels([]LabelSpan{{Start: base, End: base.Add(time.Second), Activity: "idle"}}))

	want := strings.Join([]string{
		"timestamp,time_ms,ax,ay,note,label",
		"2018-05-15T08:54:32.261Z,0,10,20,start,idle",
		"2018-05-15T08:54:32.761Z,500,20,40,,idle",
		"2018-05-15T08:54:33.261Z,1000,30,60,x,",
		"2018-05-15T08:54:33.761Z,1500,40,,y,",
	}, "\n") + "\n"
	assert.Equal(t, want, csvString(t, ds))
}

func TestFromFIT(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 26, 23, 0, 0, 0, time.UTC)

	fitHeader := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, fitHeader)
	require.NoError(t, err)
	file.FileId.SerialNumber = 3993220342

	activity, err := file.Activity()
	require.NoError(t, err)
	for i, hr := range []uint8{120, 125, 130} {
		record := fit.NewRecordMsg()
		record.Timestamp = start.Add(time.Duration(2-i) * time.Second)
		record.HeartRate = hr
		record.Power = uint16(200 + i)
		activity.Records = append(activity.Records, record)
	}

	var buf bytes.Buffer
	require.NoError(t, fit.Encode(&buf, file, binary.LittleEndian))

	ds, md, err := FromFIT(&buf)
	require.NoError(t, err)
	assert.Equal(t, "3993220342", md.SensorID)
	assert.Equal(t, start, md.BaseTime)
	assert.Equal(t, []string{"heart_rate", "power"}, ds.ChannelNames())
	assert.Equal(t, md.Columns, ds.ChannelNames())

	hr, ok := ds.Channel("heart_rate")
	require.True(t, ok)
	assert.Equal(t, []float64{130, 125, 120}, hr.Values)
	assert.Equal(t, start.Add(2*time.Second), ds.Timestamps()[2])
	require.NoError(t, ds.AddAbsoluteDatetimeColumn())
}
