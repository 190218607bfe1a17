package artifacts

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestBuildXLSX(t *testing.T) {
	pages := []string{
		"Item        Qty\nPaper       10",
		"Second page line",
	}
	raw, err := BuildXLSX(pages)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("OCR")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Item", "Qty"}, rows[0])
	assert.Equal(t, []string{"Paper", "10"}, rows[1])
	assert.Equal(t, "--- Page Break ---", rows[2][0])
	assert.Equal(t, "Second page line", rows[3][0])
}

func TestBuildXLSXEmptyInput(t *testing.T) {
	raw, err := BuildXLSX(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("OCR")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "No data", rows[0][0])
}

func TestBuildDOCX(t *testing.T) {
	raw, err := BuildDOCX([]string{"Trang một.", "Trang hai & ba."})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	names := make(map[string]bool)
	var document string
	for _, file := range zr.File {
		names[file.Name] = true
		if file.Name == "word/document.xml" {
			rc, err := file.Open()
			require.NoError(t, err)
			content, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			document = string(content)
		}
	}
	assert.True(t, names["[Content_Types].xml"])
	assert.True(t, names["_rels/.rels"])
	require.True(t, names["word/document.xml"])

	assert.Contains(t, document, "Trang một.")
	assert.Contains(t, document, "Trang hai &amp; ba.", "ampersands must be escaped")
	assert.Contains(t, document, `<w:br w:type="page"/>`, "pages are separated by a page break")
}

func TestSplitTableLine(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitTableLine("a   b      c"))
	assert.Equal(t, []string{"single cell"}, splitTableLine("single cell"))
	assert.Equal(t, []string{""}, splitTableLine("   "))
}
