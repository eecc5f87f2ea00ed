package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasjlepore/sensor-labeler/pipeline"
	"github.com/lucasjlepore/sensor-labeler/window"
)

func main() {
	var (
		inPath     = flag.String("in", "", "Path to input sensor log (.csv/.txt) or .fit file")
		outDir     = flag.String("out", "", "Output directory")
		modelPath  = flag.String("model", "", "Sensor model file (.yaml|.yml|.json)")
		modelName  = flag.String("model-name", "", "Sensor model name in the label store")
		storePath  = flag.String("store", "", "SQLite label store")
		labelsPath = flag.String("labels", "", "JSON file of label spans")
		channels   = flag.String("channels", "", "Comma separated channels to window (default: all numeric)")
		stats      = flag.String("stats", "", "Comma separated statistics (default: mean,max,min,median,std,p25,p75,kurtosis,skewness)")
		from       = flag.String("from", "", "Keep rows at or after this RFC3339 time")
		to         = flag.String("to", "", "Keep rows before this RFC3339 time")
		threshold  = flag.Float64("threshold", 0.9, "Minimum average probability of a merged span")
		minRun     = flag.Int("min-run", 2, "Minimum predictions in a merged span")
		format     = flag.String("format", "parquet", "Window feature format: parquet|csv")
		overwrite  = flag.Bool("overwrite", true, "Allow writing into non-empty output directories")
		copySource = flag.Bool("copy-source", false, "Copy the input file into the output directory")
		logJSON    = flag.Bool("log-json", false, "Emit JSON logs")
		verbose    = flag.Bool("v", false, "Log window progress")
		derived    []string
	)
	flag.Func("derive", "Derived channel name=formula (repeatable)", func(s string) error {
		derived = append(derived, s)
		return nil
	})
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --in log.csv --model model.yaml --labels labels.json --out outdir [--format parquet|csv]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(*inPath) == "" || strings.TrimSpace(*outDir) == "" {
		flag.Usage()
		os.Exit(2)
	}
	logger := newLogger(*logJSON, *verbose)

	statistics, err := window.ParseStatistics(*stats)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensor_label: %v\n", err)
		os.Exit(2)
	}
	fromTime, err := parseTime(*from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensor_label: -from: %v\n", err)
		os.Exit(2)
	}
	toTime, err := parseTime(*to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensor_label: -to: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := pipeline.Run(ctx, pipeline.Options{
		InputPath:  *inPath,
		ModelPath:  *modelPath,
		ModelName:  *modelName,
		StorePath:  *storePath,
		LabelsPath: *labelsPath,
		Derived:    derived,
		Channels:   splitList(*channels),
		Statistics: statistics,
		From:       fromTime,
		To:         toTime,
		Threshold:  *threshold,
		MinRun:     *minRun,
		OutDir:     *outDir,
		Format:     *format,
		Overwrite:  *overwrite,
		CopySource: *copySource,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensor_label failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("sensor_label complete (run %s)\n", result.RunID)
	fmt.Printf("Output dir:          %s\n", result.OutputDir)
	fmt.Printf("manifest.json:       %s\n", result.ManifestPath)
	fmt.Printf("windows:             %s (%d rows)\n", result.WindowsPath, result.Windows)
	fmt.Printf("labeled samples:     %s (%d rows)\n", result.LabeledSamplesPath, result.Rows)
	fmt.Printf("predictions:         %s (%d predictions, %d spans)\n", result.PredictionsPath, result.Predictions, result.Spans)
	fmt.Printf("summary:             %s\n", result.SummaryPath)
	if result.SourceCopyPath != "" {
		fmt.Printf("source copy:         %s\n", result.SourceCopyPath)
	}
	for _, w := range result.Warnings {
		fmt.Printf("warning:             %s\n", w)
	}
}

func newLogger(jsonOut, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonOut {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
