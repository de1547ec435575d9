// Package artifacts serializes run outputs as JSONL files plus a manifest.
// One line per record keeps the files diffable and streamable; byte-identical
// inputs and policy produce byte-identical canonical, timeline, and action
// files.
package artifacts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/policy"
)

const (
	CanonicalFile = "canonical.jsonl"
	TimelineFile  = "timeline.jsonl"
	ActionsFile   = "actions.jsonl"
	ManifestFile  = "manifest.json"
)

// Writer emits the run's JSONL artifacts into one output directory.
type Writer struct {
	dir string
	log zerolog.Logger
}

func NewWriter(dir string, log zerolog.Logger) *Writer {
	return &Writer{dir: dir, log: log.With().Str("component", "artifacts").Logger()}
}

// timelineRow flattens one timeline entry for serialization.
type timelineRow struct {
	ProductID string `json:"product_id"`
	Shop      string `json:"shop"`
	domain.TimelineEntry
}

// actionRow is either an action item or a watchlist entry, tagged by kind.
type actionRow struct {
	Kind   string             `json:"kind"`
	Action *domain.ActionItem `json:"action,omitempty"`
	Watch  *policy.WatchEntry `json:"watch,omitempty"`
}

// WriteCanonical writes canonical.jsonl in input order.
func (w *Writer) WriteCanonical(records []domain.CanonicalRecord) error {
	return w.writeLines(CanonicalFile, len(records), func(enc *json.Encoder) error {
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTimelines writes timeline.jsonl, one line per entry.
func (w *Writer) WriteTimelines(timelines []domain.StageTimeline) error {
	var n int
	for _, tl := range timelines {
		n += len(tl.Entries)
	}
	return w.writeLines(TimelineFile, n, func(enc *json.Encoder) error {
		for _, tl := range timelines {
			for _, e := range tl.Entries {
				row := timelineRow{ProductID: tl.ProductID, Shop: tl.Shop, TimelineEntry: e}
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// WriteActions writes actions.jsonl: ranked actions first, then the
// watchlist.
func (w *Writer) WriteActions(res policy.Result) error {
	return w.writeLines(ActionsFile, len(res.Actions)+len(res.Watchlist), func(enc *json.Encoder) error {
		for i := range res.Actions {
			if err := enc.Encode(actionRow{Kind: "action", Action: &res.Actions[i]}); err != nil {
				return err
			}
		}
		for i := range res.Watchlist {
			if err := enc.Encode(actionRow{Kind: "watch", Watch: &res.Watchlist[i]}); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeLines writes a JSONL file atomically: temp file, then rename.
func (w *Writer) writeLines(name string, count int, fill func(*json.Encoder) error) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(w.dir, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)

	if err := fill(enc); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}

	w.log.Info().Str("file", name).Int("lines", count).Msg("artifact written")
	return nil
}
