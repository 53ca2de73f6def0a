// Package fragment implements the text-chunking side of secondary
// processing: splitting scraped document text into overlapping windows
// sized for downstream embedding.
package fragment

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/actor"
	"github.com/lexharvest/lexharvest/internal/metrics"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Defaults match what the embedding consumers expect.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Config sizes the chunk windows. Sizes are in runes, not bytes, so
// multi-byte text never splits mid-character.
type Config struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// Worker handles FragmentText commands.
type Worker struct {
	cfg    Config
	source string
	coord  actor.Teller
	logger *zap.Logger
}

// New constructs a fragment Worker reporting to coord.
func New(cfg Config, source string, coord actor.Teller, logger *zap.Logger) *Worker {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = DefaultOverlap
		if cfg.Overlap >= cfg.Size {
			cfg.Overlap = cfg.Size / 5
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{cfg: cfg, source: source, coord: coord, logger: logger}
}

// Handle dispatches fragment commands.
func (w *Worker) Handle(_ context.Context, msg pipeline.Message) (pipeline.Message, error) {
	switch m := msg.(type) {
	case pipeline.FragmentText:
		frags := Split(m.Text, w.cfg.Size, w.cfg.Overlap)
		metrics.AddFragments(w.source, len(frags))
		w.logger.Debug("text fragmented",
			zap.String("item_id", m.ItemID),
			zap.Int("fragments", len(frags)))
		w.coord.Tell(pipeline.TextFragmented{
			Envelope:  pipeline.Envelope{SessionID: m.SessionID},
			ItemID:    m.ItemID,
			Fragments: frags,
		})
		return nil, nil
	default:
		return nil, pipeline.NewError(pipeline.KindContent,
			fmt.Sprintf("fragmenter cannot handle %T", msg))
	}
}

// Split chunks text into overlapping windows of size runes, stepping
// size-overlap runes each time. A window ending inside a paragraph is
// pulled back to the last blank line when one falls in its final fifth.
// Empty or whitespace-only input yields no fragments.
func Split(text string, size, overlap int) []pipeline.Fragment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []pipeline.Fragment{{Index: 0, Text: text}}
	}

	step := size - overlap
	var frags []pipeline.Fragment
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			frags = append(frags, pipeline.Fragment{
				Index: len(frags),
				Text:  string(runes[start:]),
			})
			break
		}
		if cut := paragraphCut(runes, start, end); cut > start {
			end = cut
		}
		frags = append(frags, pipeline.Fragment{
			Index: len(frags),
			Text:  string(runes[start:end]),
		})
		// Step from the actual cut so overlap stays consistent after a
		// paragraph-aligned window.
		next := end - overlap
		if next <= start {
			next = start + step
		}
		start = next
	}
	return frags
}

// paragraphCut finds a blank-line boundary in the final fifth of the
// window [start,end), returning the rune index just past it, or start
// when none exists.
func paragraphCut(runes []rune, start, end int) int {
	floor := end - (end-start)/5
	for i := end - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	return start
}
