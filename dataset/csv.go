package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"
)

// WriteCSV writes the dataset with a timestamp column first (when derived),
// then numeric channels, text columns and the label column (when present).
// Missing numeric values are written as empty cells.
func (d *Dataset) WriteCSV(out io.Writer) error {
	w := csv.NewWriter(out)

	head := make([]string, 0, 2+len(d.channels)+len(d.textNames))
	if d.timestamps != nil {
		head = append(head, "timestamp")
	}
	head = append(head, d.ChannelNames()...)
	head = append(head, d.textNames...)
	if d.labels != nil {
		head = append(head, "label")
	}
	if err := w.Write(head); err != nil {
		return err
	}

	row := make([]string, len(head))
	for i := 0; i < d.n; i++ {
		row = row[:0]
		if d.timestamps != nil {
			row = append(row, d.timestamps[i].Format(time.RFC3339Nano))
		}
		for _, c := range d.channels {
			row = append(row, formatFloat(c.Values[i]))
		}
		for _, name := range d.textNames {
			row = append(row, d.text[name][i])
		}
		if d.labels != nil {
			row = append(row, d.labels[i])
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
