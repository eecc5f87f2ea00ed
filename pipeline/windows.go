package pipeline

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lucasjlepore/sensor-labeler/window"
)

func writeWindowsCSV(path string, table *window.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"timestamp", "label"}, table.Columns...)
	if err := w.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for _, row := range table.Rows {
		rec[0] = row.Timestamp.Format(time.RFC3339Nano)
		rec[1] = row.Label
		for i, v := range row.Features {
			rec[i+2] = formatFloat(v)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// windowsSchema describes the parquet columns of a feature table. Feature
// values are DOUBLE with NaN for missing.
func windowsSchema(table *window.Table) []string {
	md := []string{
		"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY",
		"name=label, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY",
	}
	for _, name := range parquetNames(table.Columns) {
		md = append(md, fmt.Sprintf("name=%s, type=DOUBLE", name))
	}
	return md
}

// parquetNames maps columns with parquetName and suffixes repeats with _2,
// _3 and so on. The timestamp and label columns are always taken.
func parquetNames(cols []string) []string {
	used := map[string]bool{"timestamp": true, "label": true}
	names := make([]string, len(cols))
	for i, col := range cols {
		base := parquetName(col)
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func writeWindowsParquet(path string, table *window.Table) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewCSVWriter(windowsSchema(table), fw, 4)
	if err != nil {
		_ = fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	rec := make([]interface{}, len(table.Columns)+2)
	for _, row := range table.Rows {
		rec[0] = row.Timestamp.Format(time.RFC3339Nano)
		rec[1] = row.Label
		for i, v := range row.Features {
			rec[i+2] = v
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

// parquetName maps a column name onto [A-Za-z0-9_], starting with a letter.
func parquetName(col string) string {
	var b strings.Builder
	for _, r := range col {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || !(name[0] >= 'a' && name[0] <= 'z' || name[0] >= 'A' && name[0] <= 'Z') {
		name = "c_" + name
	}
	return name
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
