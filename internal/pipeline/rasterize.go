package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ledongthuc/pdf"
	"golang.org/x/image/tiff"

	"github.com/pdfconvert/convertd/internal/storage"
)

// RasterizeStage converts the input PDF into per-page TIFF images using the
// pdftoppm tool. The page count is probed first so a corrupt document fails
// fast instead of burning a subprocess attempt.
type RasterizeStage struct {
	storage      *storage.Manager
	pdftoppmPath string
	dpi          int
}

// NewRasterizeStage creates the rasterization stage.
func NewRasterizeStage(mgr *storage.Manager, pdftoppmPath string, dpi int) *RasterizeStage {
	return &RasterizeStage{storage: mgr, pdftoppmPath: pdftoppmPath, dpi: dpi}
}

// Name implements Stage.
func (s *RasterizeStage) Name() string { return "rasterize" }

// Run implements Stage.
func (s *RasterizeStage) Run(ctx context.Context, state *State) error {
	pageCount, err := probePageCount(state.InputPath)
	if err != nil {
		// A document we cannot even open will not improve on retry.
		return FatalError(s.Name(), fmt.Errorf("unreadable pdf: %w", err))
	}
	if pageCount == 0 {
		return FatalError(s.Name(), fmt.Errorf("document has no pages"))
	}

	workDir, err := s.storage.WorkDir(state.JobID)
	if err != nil {
		return RetriableError(s.Name(), err)
	}
	state.WorkDir = workDir

	prefix := filepath.Join(workDir, "page")
	cmd := exec.CommandContext(ctx, s.pdftoppmPath,
		"-tiff",
		"-r", strconv.Itoa(s.dpi),
		state.InputPath,
		prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return FatalError(s.Name(), fmt.Errorf("pdftoppm not installed: %w", err))
		}
		return RetriableError(s.Name(), fmt.Errorf("pdftoppm failed: %w (%s)", err, string(out)))
	}

	images, err := collectPageImages(workDir)
	if err != nil {
		return RetriableError(s.Name(), err)
	}
	if len(images) == 0 {
		return RetriableError(s.Name(), fmt.Errorf("rasterization produced no pages"))
	}
	state.Images = images
	return nil
}

func probePageCount(path string) (int, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return reader.NumPage(), nil
}

// collectPageImages lists the generated page images in page order and
// records their dimensions.
func collectPageImages(dir string) ([]PageImage, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "page-*.tif"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	images := make([]PageImage, 0, len(matches))
	for i, path := range matches {
		width, height, err := imageSize(path)
		if err != nil {
			return nil, fmt.Errorf("bad page image %s: %w", path, err)
		}
		images = append(images, PageImage{Index: i + 1, Path: path, Width: width, Height: height})
	}
	return images, nil
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
