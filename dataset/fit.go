package dataset

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/tormoder/fit"

	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/header"
)

// FIT record channels, in output order.
var fitChannels = []struct {
	name    string
	extract func(*fit.RecordMsg) float64
}{
	{"heart_rate", fitHeartRate},
	{"power", fitPower},
	{"cadence", fitCadence},
	{"speed", fitSpeed},
	{"distance", func(r *fit.RecordMsg) float64 { return r.GetDistanceScaled() }},
	{"altitude", fitAltitude},
	{"temperature", fitTemperature},
}

// FromFIT imports the record messages of a FIT activity. Timestamps come from
// the records; the sensor id is the device serial number. Channels without a
// single valid sample are dropped.
func FromFIT(r io.Reader) (*Dataset, *header.Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read FIT: %w", err)
	}
	_, id, err := fit.DecodeHeaderAndFileID(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decode FIT file id: %w", err)
	}
	decoded, err := fit.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decode FIT file: %w", err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return nil, nil, fmt.Errorf("activity FIT expected: %w", err)
	}

	records := make([]*fit.RecordMsg, 0, len(activity.Records))
	for _, rec := range activity.Records {
		if rec == nil || rec.Timestamp.IsZero() || fit.IsBaseTime(rec.Timestamp) {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	md := &header.Metadata{Location: time.UTC}
	if id.SerialNumber != 0 {
		md.SensorID = strconv.FormatUint(uint64(id.SerialNumber), 10)
	}
	model := &config.SensorModel{Name: "fit", HeaderRow: config.At(1)}
	ds := New(md, model)

	ts := make([]time.Time, len(records))
	for i, rec := range records {
		ts[i] = rec.Timestamp.UTC()
	}
	if err := ds.SetTimestamps(ts); err != nil {
		return nil, nil, err
	}

	for _, ch := range fitChannels {
		values := make([]float64, len(records))
		valid := false
		for i, rec := range records {
			values[i] = ch.extract(rec)
			if !math.IsNaN(values[i]) {
				valid = true
			}
		}
		if !valid {
			continue
		}
		if err := ds.AddChannel(ch.name, values); err != nil {
			return nil, nil, err
		}
		md.Columns = append(md.Columns, ch.name)
		model.Columns = append(model.Columns, config.ColumnSpec{Name: ch.name, DataType: config.DataTypeNumeric, SensorName: "fit"})
	}

	if len(ts) > 0 {
		md.BaseTime = ts[0]
		md.Date = ts[0].Format(time.DateOnly)
		md.Time = ts[0].Format("15:04:05.000")
	}
	return ds, md, nil
}

func fitHeartRate(rec *fit.RecordMsg) float64 {
	if rec.HeartRate == math.MaxUint8 {
		return math.NaN()
	}
	return float64(rec.HeartRate)
}

func fitPower(rec *fit.RecordMsg) float64 {
	if rec.Power == math.MaxUint16 {
		return math.NaN()
	}
	return float64(rec.Power)
}

func fitCadence(rec *fit.RecordMsg) float64 {
	if cad := rec.GetCadence256Scaled(); isFinite(cad) && cad > 0 {
		return cad
	}
	if rec.Cadence == math.MaxUint8 {
		return math.NaN()
	}
	return float64(rec.Cadence)
}

func fitSpeed(rec *fit.RecordMsg) float64 {
	if v := rec.GetEnhancedSpeedScaled(); isFinite(v) && v >= 0 {
		return v
	}
	if v := rec.GetSpeedScaled(); isFinite(v) && v >= 0 {
		return v
	}
	return math.NaN()
}

func fitAltitude(rec *fit.RecordMsg) float64 {
	if v := rec.GetEnhancedAltitudeScaled(); isFinite(v) {
		return v
	}
	if v := rec.GetAltitudeScaled(); isFinite(v) {
		return v
	}
	return math.NaN()
}

func fitTemperature(rec *fit.RecordMsg) float64 {
	if rec.Temperature == math.MaxInt8 {
		return math.NaN()
	}
	return float64(rec.Temperature)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
