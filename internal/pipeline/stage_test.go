package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/llm"
)

func TestStageErrorClassification(t *testing.T) {
	retriable := RetriableError("ocr", errors.New("engine busy"))
	fatal := FatalError("rasterize", errors.New("unreadable pdf"))

	assert.True(t, IsRetriable(retriable))
	assert.False(t, IsRetriable(fatal))
	assert.False(t, IsRetriable(errors.New("unclassified")), "unknown errors are not retried")
	assert.False(t, IsRetriable(nil))

	assert.Contains(t, retriable.Error(), "ocr")
	assert.ErrorContains(t, fatal, "unreadable pdf")
}

func TestStructureStageDetectsTablesAndBlocks(t *testing.T) {
	stage := NewStructureStage()
	state := &State{
		Pages: []PageText{{
			Index: 1,
			Text: "Invoice Summary\n" +
				"\n" +
				"Item        Qty     Price\n" +
				"Paper       10      5.00\n" +
				"Toner       2       30.00\n" +
				"\n" +
				"Thank you for your business.",
		}},
	}

	require.NoError(t, stage.Run(context.Background(), state))
	require.Len(t, state.Structures, 1)

	structure := state.Structures[0]
	require.Len(t, structure.Tables, 3)
	assert.Equal(t, []string{"Item", "Qty", "Price"}, structure.Tables[0])
	assert.Equal(t, []string{"Paper", "10", "5.00"}, structure.Tables[1])

	require.Len(t, structure.Blocks, 2)
	assert.Equal(t, "Invoice Summary", structure.Blocks[0])
	assert.Equal(t, "Thank you for your business.", structure.Blocks[1])
}

func TestStructureStageShortRunStaysText(t *testing.T) {
	stage := NewStructureStage()
	state := &State{
		Pages: []PageText{{
			Index: 1,
			Text:  "Date:     2024-01-05\nplain line follows",
		}},
	}

	require.NoError(t, stage.Run(context.Background(), state))
	structure := state.Structures[0]
	assert.Empty(t, structure.Tables, "a single aligned line is not a table")
	require.Len(t, structure.Blocks, 1)
	assert.Contains(t, structure.Blocks[0], "Date: 2024-01-05")
}

func TestNormalize(t *testing.T) {
	in := "line one   \r\nline two\n\n\n\nline three\n"
	assert.Equal(t, "line one\nline two\n\nline three", normalize(in))
}

func TestPostprocessStageBypassKeepsRawText(t *testing.T) {
	router := llm.NewRouter(nil, true)
	stage := NewPostprocessStage(router)

	off := false
	state := &State{
		Pages:      []PageText{{Index: 1, Text: "trang một"}, {Index: 2, Text: "trang hai"}},
		LLMOptions: &models.LLMOptions{EnableLLM: &off},
	}

	require.NoError(t, stage.Run(context.Background(), state))
	assert.Equal(t, []string{"trang một", "trang hai"}, state.FinalPages)
	assert.Empty(t, state.ProviderUsage)
	assert.False(t, state.FallbackUsed)
}

func TestPostprocessStageProviderFailureIsRetriable(t *testing.T) {
	router := llm.NewRouter(nil, true)
	stage := NewPostprocessStage(router)

	state := &State{
		Pages: []PageText{{Index: 1, Text: "trang một"}},
	}

	err := stage.Run(context.Background(), state)
	require.Error(t, err)
	assert.True(t, IsRetriable(err), "provider outages should be retried")
	assert.ErrorIs(t, err, llm.ErrAllProvidersFailed)
}

func TestPostprocessStageHonorsCancellation(t *testing.T) {
	router := llm.NewRouter(nil, true)
	stage := NewPostprocessStage(router)

	state := &State{
		Pages: []PageText{{Index: 1, Text: "text"}},
		CheckCancelled: func(context.Context) error {
			return ErrCancelled
		},
	}

	err := stage.Run(context.Background(), state)
	assert.ErrorIs(t, err, ErrCancelled)
}
