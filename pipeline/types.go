package pipeline

import (
	"log/slog"
	"time"

	sensornotes "github.com/lucasjlepore/sensor-labeler"
	"github.com/lucasjlepore/sensor-labeler/classify"
	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/dataset"
	"github.com/lucasjlepore/sensor-labeler/window"
)

// ManifestFormatVersion identifies the layout of manifest.json.
const ManifestFormatVersion = "sensor-labeler-run-v1"

// Options configures one labeling run.
type Options struct {
	// InputPath is a delimited sensor log or a .fit activity.
	InputPath string
	// Model takes precedence over ModelName and ModelPath. FIT inputs need no
	// model.
	Model     *config.SensorModel
	ModelName string
	ModelPath string

	// StorePath is an optional SQLite label store. It supplies ModelName and
	// the spans recorded for the file's sensor id.
	StorePath string
	// LabelsPath is a JSON array of label spans.
	LabelsPath string
	Spans      []dataset.LabelSpan

	// Derived holds "name=formula" channel definitions, applied in order.
	Derived    []string
	Channels   []string
	Statistics []window.Statistic

	// From and To keep rows in [From, To). A zero bound is open.
	From time.Time
	To   time.Time

	// Zero values select classify.DefaultThreshold and classify.DefaultMinRun.
	Threshold float64
	MinRun    int

	OutDir     string
	Format     string
	Overwrite  bool
	CopySource bool

	Logger *slog.Logger
}

// Result lists the artifacts of a run.
type Result struct {
	RunID              string   `json:"run_id"`
	OutputDir          string   `json:"output_dir"`
	ManifestPath       string   `json:"manifest_path"`
	WindowsPath        string   `json:"windows_path"`
	LabeledSamplesPath string   `json:"labeled_samples_path"`
	PredictionsPath    string   `json:"predictions_path"`
	SummaryPath        string   `json:"summary_path"`
	SourceCopyPath     string   `json:"source_copy_path,omitempty"`
	Rows               int      `json:"rows"`
	Windows            int      `json:"windows"`
	Predictions        int      `json:"predictions"`
	Spans              int      `json:"spans"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Manifest describes the input and outputs of a run.
type Manifest struct {
	FormatVersion   string                `json:"format_version"`
	RunID           string                `json:"run_id"`
	GeneratedAt     time.Time             `json:"generated_at"`
	SourceFile      string                `json:"source_file"`
	SourceFileName  string                `json:"source_file_name"`
	SourceSHA256    string                `json:"source_sha256"`
	SourceSizeBytes int64                 `json:"source_size_bytes"`
	SourceSize      string                `json:"source_size"`
	Model           string                `json:"model"`
	SensorID        string                `json:"sensor_id,omitempty"`
	Format          string                `json:"format"`
	Channels        []string              `json:"channels"`
	Derived         []string              `json:"derived,omitempty"`
	Statistics      []window.Statistic    `json:"statistics"`
	FeatureColumns  []string              `json:"feature_columns"`
	LabelSource     string                `json:"label_source"`
	Files           []string              `json:"files"`
	Analysis        *sensornotes.Analysis `json:"analysis"`
	Warnings        []string              `json:"warnings,omitempty"`
}

// PredictionsFile is the content of predictions.json.
type PredictionsFile struct {
	Threshold   float64               `json:"threshold"`
	MinRun      int                   `json:"min_run"`
	Classes     []string              `json:"classes,omitempty"`
	Predictions []classify.Prediction `json:"predictions"`
	Spans       []classify.Span       `json:"spans"`
}
