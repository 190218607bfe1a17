package pipeline

import (
	"context"
	"regexp"
	"strings"
)

var tableGap = regexp.MustCompile(`\s{2,}`)

// minTableRows is how many consecutive multi-column lines make a table.
const minTableRows = 2

// StructureStage groups OCR lines into tables and free-text blocks. Lines
// whose columns are separated by runs of spaces and that share a column
// count with their neighbors are treated as table rows; everything else is
// collected into paragraph blocks.
type StructureStage struct{}

// NewStructureStage creates the structure recognition stage.
func NewStructureStage() *StructureStage { return &StructureStage{} }

// Name implements Stage.
func (s *StructureStage) Name() string { return "structure" }

// Run implements Stage.
func (s *StructureStage) Run(ctx context.Context, state *State) error {
	structures := make([]PageStructure, 0, len(state.Pages))
	for _, page := range state.Pages {
		if err := state.Cancelled(ctx); err != nil {
			return err
		}
		structures = append(structures, analyzePage(page))
	}
	state.Structures = structures
	return nil
}

func analyzePage(page PageText) PageStructure {
	structure := PageStructure{Index: page.Index}

	var block []string
	var table [][]string

	flushBlock := func() {
		if len(block) > 0 {
			structure.Blocks = append(structure.Blocks, strings.Join(block, "\n"))
			block = nil
		}
	}
	flushTable := func() {
		if len(table) >= minTableRows {
			structure.Tables = append(structure.Tables, mergeRows(table)...)
		} else {
			// Too short to be a table, keep as text.
			for _, row := range table {
				block = append(block, strings.Join(row, " "))
			}
		}
		table = nil
	}

	for _, line := range strings.Split(page.Text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flushTable()
			flushBlock()
			continue
		}
		cells := splitColumns(trimmed)
		if len(cells) > 1 {
			flushBlock()
			table = append(table, cells)
			continue
		}
		flushTable()
		block = append(block, trimmed)
	}
	flushTable()
	flushBlock()
	return structure
}

func splitColumns(line string) []string {
	var cells []string
	for _, col := range tableGap.Split(line, -1) {
		if trimmed := strings.TrimSpace(col); trimmed != "" {
			cells = append(cells, trimmed)
		}
	}
	return cells
}

// mergeRows keeps a run of table rows as one table slice. Rows are kept
// ragged; downstream exporters pad as needed.
func mergeRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	copy(out, rows)
	return out
}
