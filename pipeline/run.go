package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	sensornotes "github.com/lucasjlepore/sensor-labeler"
	"github.com/lucasjlepore/sensor-labeler/classify"
	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/dataset"
	"github.com/lucasjlepore/sensor-labeler/labelstore"
	"github.com/lucasjlepore/sensor-labeler/window"
)

// Run executes the labeling pipeline and writes all artifacts to opts.OutDir.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.InputPath) == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "parquet"
	}
	if format != "parquet" && format != "csv" {
		return nil, fmt.Errorf("unsupported format %q (expected parquet|csv)", format)
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = classify.DefaultThreshold
	}
	minRun := opts.MinRun
	if minRun == 0 {
		minRun = classify.DefaultMinRun
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	runID := uuid.NewString()
	log = log.With("run_id", runID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var store *labelstore.Store
	if opts.StorePath != "" {
		s, err := labelstore.Open(opts.StorePath)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		if err := s.MigrateUp(); err != nil {
			return nil, err
		}
		store = s
	}

	data, err := os.ReadFile(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	sum := sha256.Sum256(data)

	ds, err := loadDataset(ctx, opts, store, data)
	if err != nil {
		return nil, err
	}
	log.Info("parsed input",
		"path", opts.InputPath,
		"size", humanize.Bytes(uint64(len(data))),
		"rows", humanize.Comma(int64(ds.Len())),
		"channels", len(ds.ChannelNames()))

	for _, def := range opts.Derived {
		name, formula, ok := strings.Cut(def, "=")
		if !ok {
			return nil, fmt.Errorf("derived column %q: expected name=formula", def)
		}
		if err := ds.AddDerivedColumn(strings.TrimSpace(name), strings.TrimSpace(formula)); err != nil {
			return nil, fmt.Errorf("derived column %q: %w", def, err)
		}
	}
	if err := ds.AddAbsoluteDatetimeColumn(); err != nil {
		return nil, fmt.Errorf("absolute timestamps: %w", err)
	}
	if !opts.From.IsZero() || !opts.To.IsZero() {
		if err := filterRows(ds, opts.From, opts.To); err != nil {
			return nil, err
		}
		log.Info("filtered rows", "rows", humanize.Comma(int64(ds.Len())))
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("no rows left to label")
	}

	spans, labelSource, err := collectSpans(ctx, opts, store, ds)
	if err != nil {
		return nil, err
	}
	if err := ds.AddLabels(spans); err != nil {
		return nil, err
	}

	table, err := window.ComputeContext(ctx, ds, opts.Channels, opts.Statistics, func(done, total int) {
		log.Debug("computing windows", "done", humanize.Comma(int64(done)), "total", humanize.Comma(int64(total)))
	})
	if err != nil {
		return nil, err
	}
	log.Info("computed windows", "windows", humanize.Comma(int64(len(table.Rows))), "features", len(table.Columns))

	var warnings []string
	predFile := PredictionsFile{
		Threshold:   threshold,
		MinRun:      minRun,
		Predictions: []classify.Prediction{},
		Spans:       []classify.Span{},
	}
	if hasLabeled(table) && hasUnlabeled(table) {
		model := classify.NewGaussianNB()
		c := &classify.Classifier{Model: model, Table: table, Features: table.Columns, Logger: log}
		preds, err := c.TrainAndPredict()
		switch {
		case errors.Is(err, classify.ErrNoTrainingData):
			warnings = append(warnings, "every labeled window has missing values; classification skipped")
		case err != nil:
			return nil, fmt.Errorf("classify windows: %w", err)
		default:
			predFile.Classes = model.Classes()
			predFile.Predictions = append(predFile.Predictions, preds...)
			predFile.Spans = append(predFile.Spans, classify.MergePredictions(preds, threshold, minRun)...)
		}
	} else {
		warnings = append(warnings, "classification needs both labeled and unlabeled windows; skipped")
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	if err := ensureOutputDir(opts.OutDir, opts.Overwrite); err != nil {
		return nil, err
	}

	windowsPath := filepath.Join(opts.OutDir, "windows."+formatExtension(format))
	switch format {
	case "csv":
		if err := writeWindowsCSV(windowsPath, table); err != nil {
			return nil, fmt.Errorf("write windows csv: %w", err)
		}
	case "parquet":
		if err := writeWindowsParquet(windowsPath, table); err != nil {
			return nil, fmt.Errorf("write windows parquet: %w", err)
		}
	}

	samplesPath := filepath.Join(opts.OutDir, "labeled_samples.csv")
	if err := writeSamplesCSV(samplesPath, ds); err != nil {
		return nil, fmt.Errorf("write labeled_samples.csv: %w", err)
	}

	predictionsPath := filepath.Join(opts.OutDir, "predictions.json")
	if err := writeJSON(predictionsPath, predFile); err != nil {
		return nil, fmt.Errorf("write predictions.json: %w", err)
	}

	analysis := sensornotes.Analyze(ds, table, predFile.Predictions, predFile.Spans)
	summaryPath := filepath.Join(opts.OutDir, "summary.md")
	if err := os.WriteFile(summaryPath, []byte(analysis.Notes), 0o644); err != nil {
		return nil, fmt.Errorf("write summary.md: %w", err)
	}

	sourceCopyPath := ""
	if opts.CopySource {
		sourceCopyPath = filepath.Join(opts.OutDir, "source"+strings.ToLower(filepath.Ext(opts.InputPath)))
		if err := copyFile(opts.InputPath, sourceCopyPath); err != nil {
			return nil, fmt.Errorf("copy source file: %w", err)
		}
	}

	stats := opts.Statistics
	if len(stats) == 0 {
		stats = window.DefaultStatistics
	}
	files := []string{filepath.Base(windowsPath), filepath.Base(samplesPath), filepath.Base(predictionsPath), filepath.Base(summaryPath)}
	if sourceCopyPath != "" {
		files = append(files, filepath.Base(sourceCopyPath))
	}
	manifest := Manifest{
		FormatVersion:   ManifestFormatVersion,
		RunID:           runID,
		GeneratedAt:     time.Now().UTC(),
		SourceFile:      opts.InputPath,
		SourceFileName:  filepath.Base(opts.InputPath),
		SourceSHA256:    hex.EncodeToString(sum[:]),
		SourceSizeBytes: int64(len(data)),
		SourceSize:      humanize.Bytes(uint64(len(data))),
		Model:           analysis.Model,
		SensorID:        analysis.SensorID,
		Format:          format,
		Channels:        ds.ChannelNames(),
		Derived:         opts.Derived,
		Statistics:      stats,
		FeatureColumns:  table.Columns,
		LabelSource:     labelSource,
		Files:           files,
		Analysis:        analysis,
		Warnings:        warnings,
	}
	manifestPath := filepath.Join(opts.OutDir, "manifest.json")
	if err := writeJSON(manifestPath, manifest); err != nil {
		return nil, fmt.Errorf("write manifest.json: %w", err)
	}

	return &Result{
		RunID:              runID,
		OutputDir:          opts.OutDir,
		ManifestPath:       manifestPath,
		WindowsPath:        windowsPath,
		LabeledSamplesPath: samplesPath,
		PredictionsPath:    predictionsPath,
		SummaryPath:        summaryPath,
		SourceCopyPath:     sourceCopyPath,
		Rows:               ds.Len(),
		Windows:            len(table.Rows),
		Predictions:        len(predFile.Predictions),
		Spans:              len(predFile.Spans),
		Warnings:           warnings,
	}, nil
}

func formatExtension(format string) string {
	if format == "csv" {
		return "csv"
	}
	return "parquet"
}

// IsFIT reports whether path names a FIT activity file.
func IsFIT(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".fit")
}

func loadDataset(ctx context.Context, opts Options, store *labelstore.Store, data []byte) (*dataset.Dataset, error) {
	if IsFIT(opts.InputPath) {
		ds, _, err := dataset.FromFIT(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return ds, nil
	}

	model, err := loadModel(ctx, opts, store)
	if err != nil {
		return nil, err
	}
	ds, md, err := dataset.Parse(opts.InputPath, model)
	if err != nil {
		return nil, err
	}
	if model.Timezone != "" {
		if err := md.AttachTimezone(model.Timezone); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func loadModel(ctx context.Context, opts Options, store *labelstore.Store) (*config.SensorModel, error) {
	switch {
	case opts.Model != nil:
		if err := opts.Model.Validate(); err != nil {
			return nil, fmt.Errorf("sensor model %q: %w", opts.Model.Name, err)
		}
		return opts.Model, nil
	case opts.ModelName != "":
		if store == nil {
			return nil, fmt.Errorf("sensor model %q: a label store is required to load models by name", opts.ModelName)
		}
		return store.SensorModel(ctx, opts.ModelName)
	case opts.ModelPath != "":
		return config.LoadSensorModel(opts.ModelPath)
	default:
		return nil, fmt.Errorf("a sensor model is required for %s", filepath.Base(opts.InputPath))
	}
}

// filterRows keeps [from, to); a zero bound is replaced by the data's own.
func filterRows(ds *dataset.Dataset, from, to time.Time) error {
	ts := ds.Timestamps()
	if len(ts) == 0 {
		return nil
	}
	if from.IsZero() {
		from = ts[0]
		for _, t := range ts {
			if t.Before(from) {
				from = t
			}
		}
	}
	if to.IsZero() {
		to = ts[0]
		for _, t := range ts {
			if t.After(to) {
				to = t
			}
		}
		to = to.Add(time.Nanosecond)
	}
	if err := ds.FilterBetweenDates(from, to); err != nil {
		return fmt.Errorf("filter rows: %w", err)
	}
	return nil
}

// collectSpans gathers explicit spans, then the spans file, then the store's
// spans for the file's sensor. Earlier spans win where they overlap.
func collectSpans(ctx context.Context, opts Options, store *labelstore.Store, ds *dataset.Dataset) ([]dataset.LabelSpan, string, error) {
	var (
		spans   []dataset.LabelSpan
		sources []string
	)
	if len(opts.Spans) > 0 {
		spans = append(spans, opts.Spans...)
		sources = append(sources, "options")
	}
	if opts.LabelsPath != "" {
		fromFile, err := loadSpansFile(opts.LabelsPath)
		if err != nil {
			return nil, "", err
		}
		spans = append(spans, fromFile...)
		sources = append(sources, filepath.Base(opts.LabelsPath))
	}
	if store != nil {
		sensorID := ""
		if ds.Metadata != nil {
			sensorID = ds.Metadata.SensorID
		}
		if sensorID == "" {
			return nil, "", fmt.Errorf("label store lookup needs a sensor id, none found in %s", filepath.Base(opts.InputPath))
		}
		ts := ds.Timestamps()
		from, to := ts[0], ts[len(ts)-1].Add(time.Nanosecond)
		stored, err := store.LabelSpans(ctx, sensorID, from, to)
		if err != nil {
			return nil, "", err
		}
		spans = append(spans, stored...)
		sources = append(sources, "store:"+sensorID)
	}
	if len(sources) == 0 {
		return nil, "none", nil
	}
	return spans, strings.Join(sources, ","), nil
}

func loadSpansFile(path string) ([]dataset.LabelSpan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label spans: %w", err)
	}
	var spans []dataset.LabelSpan
	if err := json.Unmarshal(data, &spans); err != nil {
		return nil, fmt.Errorf("decode label spans %s: %w", filepath.Base(path), err)
	}
	return spans, nil
}

func hasLabeled(t *window.Table) bool {
	for _, row := range t.Rows {
		if row.Label != dataset.Unlabeled {
			return true
		}
	}
	return false
}

func hasUnlabeled(t *window.Table) bool {
	for _, row := range t.Rows {
		if row.Label == dataset.Unlabeled {
			return true
		}
	}
	return false
}

func ensureOutputDir(path string, overwrite bool) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read output directory: %w", err)
	}
	if len(entries) > 0 && !overwrite {
		return fmt.Errorf("output directory is not empty: %s (set overwrite=true to allow)", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSamplesCSV(path string, ds *dataset.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ds.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
