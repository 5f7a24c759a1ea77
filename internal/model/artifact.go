package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// FormatVersion is the artifact schema understood by this build.
const FormatVersion = 1

// ActiveFile names the file in a model directory that holds the active version.
const ActiveFile = "ACTIVE"

// Artifact is the serialized form of a trained model. Artifacts are
// immutable once written; a new version never overwrites an old one.
type Artifact struct {
	FormatVersion int      `json:"format_version"`
	Version       string   `json:"version"`
	Features      []string `json:"features"`
	Ensemble      Ensemble `json:"ensemble"`
}

// ArtifactPath returns the path of the model file for version (e.g. "v3").
func ArtifactPath(dir, version string) string {
	return filepath.Join(dir, "risk_model_"+version+".json")
}

// MetadataPath returns the path of the metadata sidecar for version.
func MetadataPath(dir, version string) string {
	return filepath.Join(dir, "risk_model_"+version+"_metadata.json")
}

// ReadArtifact reads and validates the artifact at path.
func ReadArtifact(path string) (*Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &a, nil
}

// Validate checks that the artifact can be served by this build: the format
// version, the feature order and the tree structure.
func (a *Artifact) Validate() error {
	if a.FormatVersion != FormatVersion {
		return fmt.Errorf("format version %d, want %d", a.FormatVersion, FormatVersion)
	}
	if !slices.Equal(a.Features, domain.FeatureNames) {
		return errors.New("feature list does not match the serving feature schema")
	}
	if len(a.Ensemble.Trees) == 0 {
		return errors.New("ensemble has no trees")
	}
	return a.Ensemble.Validate(len(a.Features))
}

// ActiveVersion reads the active version named in dir's ACTIVE file.
func ActiveVersion(dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, ActiveFile))
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", fmt.Errorf("%s is empty", ActiveFile)
	}
	return v, nil
}
