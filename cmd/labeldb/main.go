package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/dataset"
	"github.com/lucasjlepore/sensor-labeler/labelstore"
)

const usage = `Usage: labeldb <command> -db labels.db [flags]

Commands:
  migrate         apply schema migrations
  import-model    store a sensor model file (args: model.yaml)
  models          list stored sensor models
  add-label       add one span (-sensor -start -end -activity)
  import-labels   add spans from a JSON file (args: spans.json; -sensor)
  set-offset      set a sensor clock offset (-sensor -offset 1m30s)
  list            print spans for a sensor as JSON (-sensor [-from -to])
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var (
		dbPath   = fs.String("db", "labels.db", "SQLite label store")
		sensorID = fs.String("sensor", "", "Sensor id")
		start    = fs.String("start", "", "Span start (RFC3339)")
		end      = fs.String("end", "", "Span end (RFC3339)")
		activity = fs.String("activity", "", "Span activity")
		offset   = fs.Duration("offset", 0, "Offset added to store time to get sensor time")
		from     = fs.String("from", "", "List spans overlapping from this time (RFC3339)")
		to       = fs.String("to", "", "List spans overlapping until this time (RFC3339)")
	)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])

	store, err := labelstore.Open(*dbPath)
	if err != nil {
		fail(err)
	}
	defer store.Close()
	if err := store.MigrateUp(); err != nil {
		fail(err)
	}

	ctx := context.Background()
	switch cmd {
	case "migrate":
		version, dirty, err := store.MigrateVersion()
		if err != nil {
			fail(err)
		}
		fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)

	case "import-model":
		if fs.NArg() != 1 {
			fs.Usage()
			os.Exit(2)
		}
		model, err := config.LoadSensorModel(fs.Arg(0))
		if err != nil {
			fail(err)
		}
		if err := store.SaveSensorModel(ctx, model); err != nil {
			fail(err)
		}
		fmt.Printf("stored sensor model %q\n", model.Name)

	case "models":
		names, err := store.SensorModelNames(ctx)
		if err != nil {
			fail(err)
		}
		for _, name := range names {
			fmt.Println(name)
		}

	case "add-label":
		requireSensor(fs, *sensorID)
		startTime, err := parseTime(*start)
		if err != nil {
			fail(fmt.Errorf("-start: %w", err))
		}
		endTime, err := parseTime(*end)
		if err != nil {
			fail(fmt.Errorf("-end: %w", err))
		}
		id, err := store.AddLabel(ctx, *sensorID, dataset.LabelSpan{Start: startTime, End: endTime, Activity: *activity})
		if err != nil {
			fail(err)
		}
		fmt.Printf("added label %d\n", id)

	case "import-labels":
		requireSensor(fs, *sensorID)
		if fs.NArg() != 1 {
			fs.Usage()
			os.Exit(2)
		}
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			fail(err)
		}
		var spans []dataset.LabelSpan
		if err := json.Unmarshal(data, &spans); err != nil {
			fail(fmt.Errorf("decode spans: %w", err))
		}
		for _, span := range spans {
			if _, err := store.AddLabel(ctx, *sensorID, span); err != nil {
				fail(err)
			}
		}
		fmt.Printf("imported %d labels for %s\n", len(spans), *sensorID)

	case "set-offset":
		requireSensor(fs, *sensorID)
		if err := store.SetOffset(ctx, *sensorID, *offset); err != nil {
			fail(err)
		}
		fmt.Printf("offset for %s set to %s\n", *sensorID, *offset)

	case "list":
		requireSensor(fs, *sensorID)
		fromTime, toTime := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
		if *from != "" {
			if fromTime, err = parseTime(*from); err != nil {
				fail(fmt.Errorf("-from: %w", err))
			}
		}
		if *to != "" {
			if toTime, err = parseTime(*to); err != nil {
				fail(fmt.Errorf("-to: %w", err))
			}
		}
		spans, err := store.LabelSpans(ctx, *sensorID, fromTime, toTime)
		if err != nil {
			fail(err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(spans); err != nil {
			fail(err)
		}

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func requireSensor(fs *flag.FlagSet, sensorID string) {
	if strings.TrimSpace(sensorID) == "" {
		fmt.Fprintln(os.Stderr, "-sensor is required")
		fs.Usage()
		os.Exit(2)
	}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "labeldb: %v\n", err)
	os.Exit(1)
}
