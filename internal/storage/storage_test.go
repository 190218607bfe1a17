package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRoundTrip(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "in"), filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	uploaded, err := mgr.SaveUpload("job-1", "contract.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	content, err := os.ReadFile(uploaded)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(content))

	resultPath, err := mgr.WriteResult("job-1", []byte(`{"pages":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "job-1.json", filepath.Base(resultPath))

	artifactPath, err := mgr.WriteArtifact("job-1", "docx", []byte("doc"))
	require.NoError(t, err)
	assert.Equal(t, "job-1.docx", filepath.Base(artifactPath))

	workDir, err := mgr.WorkDir("job-1")
	require.NoError(t, err)
	info, err := os.Stat(workDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSaveUploadStripsDirectories(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	path, err := mgr.SaveUpload("job-2", "../../etc/passwd.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "passwd.pdf", filepath.Base(path))
	assert.Contains(t, path, "job-2")
}
