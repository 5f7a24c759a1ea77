package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/couchcryptid/wildlife-risk-engine/internal/model"
)

// Importance is the total split gain of one feature.
type Importance struct {
	Feature string  `json:"feature"`
	Gain    float64 `json:"gain"`
}

// CVSummary reports grouped cross-validation.
type CVSummary struct {
	Folds    int       `json:"folds"`
	FoldRMSE []float64 `json:"fold_rmse"`
	RMSEMean float64   `json:"rmse_mean"`
	RMSEStd  float64   `json:"rmse_std"`
}

// SampleCounts are the row counts per split.
type SampleCounts struct {
	Train      int `json:"train"`
	Validation int `json:"validation"`
	Test       int `json:"test"`
}

// GateResult records the acceptance gate outcome.
type GateResult struct {
	Gate     Gate     `json:"gate"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// Metadata is the JSON sidecar written next to every artifact.
type Metadata struct {
	Version          string       `json:"version"`
	FormatVersion    int          `json:"format_version"`
	TrainedAt        time.Time    `json:"trained_at"`
	Samples          SampleCounts `json:"samples"`
	Params           Params       `json:"params"`
	Trees            int          `json:"trees"`
	BestIteration    int          `json:"best_iteration"`
	Validation       Metrics      `json:"validation"`
	Test             Metrics      `json:"test"`
	CrossValidation  *CVSummary   `json:"cross_validation,omitempty"`
	LinearBaselineR2 *float64     `json:"linear_baseline_r2,omitempty"`
	Features         []string     `json:"features"`
	Importances      []Importance `json:"feature_importances"`
	Gate             GateResult   `json:"acceptance"`
}

var versionFile = regexp.MustCompile(`^risk_model_v(\d+)\.json$`)

// NextVersion returns "v<N+1>" for the highest existing version N in dir, or
// "v1" when dir is empty or missing.
func NextVersion(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	highest := 0
	for _, e := range entries {
		m := versionFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return "v" + strconv.Itoa(highest+1), nil
}

// Publish writes the artifact and its metadata to dir. Existing files are
// never overwritten. When activate is true the ACTIVE pointer is replaced
// atomically to name the new version.
func Publish(dir string, a *model.Artifact, md Metadata, activate bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeExclusive(model.ArtifactPath(dir, a.Version), a); err != nil {
		return err
	}
	if err := writeExclusive(model.MetadataPath(dir, a.Version), md); err != nil {
		return err
	}
	if !activate {
		return nil
	}
	tmp, err := os.CreateTemp(dir, ".active-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(a.Version + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, model.ActiveFile))
}

func writeExclusive(path string, v any) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadMetadata reads the sidecar of version from dir.
func ReadMetadata(dir, version string) (*Metadata, error) {
	b, err := os.ReadFile(model.MetadataPath(dir, version))
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", version, err)
	}
	return &md, nil
}
