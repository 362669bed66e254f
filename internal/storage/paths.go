// Package storage handles the upload and output directories: path
// derivation, directory creation, and out-of-band upload discovery.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths derives file locations for job inputs and outputs.
type Paths struct {
	UploadDir string
	OutputDir string
}

// NewPaths creates a Paths for the configured directories.
func NewPaths(uploadDir, outputDir string) Paths {
	return Paths{UploadDir: uploadDir, OutputDir: outputDir}
}

// Ensure creates the storage directories if they do not exist.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.UploadDir, p.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// InputPath returns the location of an uploaded file. The filename is
// flattened to its base name so callers cannot escape the upload dir.
func (p Paths) InputPath(filename string) string {
	return filepath.Join(p.UploadDir, filepath.Base(filename))
}

// OutputName returns the unique output filename for a job. Derived from
// the job id, so outputs of distinct jobs never collide.
func (p Paths) OutputName(jobID, quality, format string) string {
	return fmt.Sprintf("%s_%s.%s", jobID, quality, format)
}

// OutputPath returns the full output location for a job.
func (p Paths) OutputPath(jobID, quality, format string) string {
	return filepath.Join(p.OutputDir, p.OutputName(jobID, quality, format))
}
