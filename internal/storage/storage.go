// Package storage persists uploaded documents and generated outputs on
// local disk. Object storage backends can replace this behind the same
// methods; the orchestration core only handles path references.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Manager resolves and writes job-scoped files under the configured input
// and result directories.
type Manager struct {
	inputDir  string
	resultDir string
}

// NewManager creates a storage manager and ensures both directories exist.
func NewManager(inputDir, resultDir string) (*Manager, error) {
	for _, dir := range []string{inputDir, resultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return &Manager{inputDir: inputDir, resultDir: resultDir}, nil
}

// SaveUpload streams an uploaded file into the job's input directory and
// returns the stored path.
func (m *Manager) SaveUpload(jobID, filename string, data io.Reader) (string, error) {
	dir := filepath.Join(m.inputDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	target := filepath.Join(dir, filepath.Base(filename))
	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, data); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return target, nil
}

// WriteResult writes the job's result JSON and returns its path.
func (m *Manager) WriteResult(jobID string, content []byte) (string, error) {
	target := filepath.Join(m.resultDir, jobID+".json")
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	return target, nil
}

// WriteArtifact writes a binary artifact (e.g. .docx, .xlsx) and returns
// its path.
func (m *Manager) WriteArtifact(jobID, suffix string, data []byte) (string, error) {
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	target := filepath.Join(m.resultDir, jobID+suffix)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return target, nil
}

// WorkDir returns a scratch directory for a job's intermediate files
// (page images), creating it if needed.
func (m *Manager) WorkDir(jobID string) (string, error) {
	dir := filepath.Join(m.inputDir, jobID, "pages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	return dir, nil
}

// InputDir returns the configured upload root.
func (m *Manager) InputDir() string { return m.inputDir }

// ResultDir returns the configured result root.
func (m *Manager) ResultDir() string { return m.resultDir }
