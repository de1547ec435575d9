package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Stage is the closed lifecycle stage set, ordered by logical progression.
// Adjacency for transition tie-breaking is defined by this ordering; Exit is
// reachable from Decline or directly through a hard-override signal.
type Stage int

const (
	Launch Stage = iota
	Growth
	Mature
	Decline
	Exit
)

// Stages lists the closed set in lifecycle order.
func Stages() []Stage {
	return []Stage{Launch, Growth, Mature, Decline, Exit}
}

func (s Stage) String() string {
	switch s {
	case Launch:
		return "launch"
	case Growth:
		return "growth"
	case Mature:
		return "mature"
	case Decline:
		return "decline"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the stage by name.
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the stage name.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	st, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Value stores the stage as text.
func (s Stage) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan reads the stage back from text.
func (s *Stage) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		st, err := ParseStage(v)
		if err != nil {
			return err
		}
		*s = st
		return nil
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan stage from %T", src)
	}
}

// ParseStage maps a stage name back to its enum value.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages() {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// Distance is the absolute ordering distance between two stages; 1 means
// adjacent.
func (s Stage) Distance(other Stage) int {
	d := int(s) - int(other)
	if d < 0 {
		d = -d
	}
	return d
}

// TimelineEntry is one committed day of a product's stage timeline. Gap
// entries mark days with missing input; they carry no stage decision.
type TimelineEntry struct {
	Date             time.Time `json:"date"`
	Stage            Stage     `json:"stage"`
	Confidence       float64   `json:"confidence"`
	ReasonCodes      []string  `json:"reason_codes"`
	Gap              bool      `json:"gap,omitempty"`
	InsufficientData bool      `json:"insufficient_data,omitempty"`
}

// StageTimeline is the day-ordered, append-only stage sequence for one
// product. Dates are strictly increasing; missing days appear as explicit gap
// entries, never as fabricated stages.
type StageTimeline struct {
	ProductID string          `json:"product_id"`
	Shop      string          `json:"shop"`
	Entries   []TimelineEntry `json:"entries"`
}

// Append adds an entry, enforcing monotonic date ordering.
func (t *StageTimeline) Append(e TimelineEntry) error {
	if n := len(t.Entries); n > 0 && !e.Date.After(t.Entries[n-1].Date) {
		return fmt.Errorf("timeline %s: date %s not after %s",
			t.ProductID, e.Date.Format("2006-01-02"), t.Entries[n-1].Date.Format("2006-01-02"))
	}
	t.Entries = append(t.Entries, e)
	return nil
}

// Latest returns the most recent non-gap entry, or nil when none exists.
func (t *StageTimeline) Latest() *TimelineEntry {
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if !t.Entries[i].Gap {
			return &t.Entries[i]
		}
	}
	return nil
}

// Segment is a compressed run of consecutive identical stages, the form
// operators actually read.
type Segment struct {
	ProductID string    `json:"product_id"`
	Shop      string    `json:"shop"`
	Stage     Stage     `json:"stage"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Days      int       `json:"days"`
}

// Segments compresses the timeline into same-stage runs, skipping gap and
// insufficient-data entries.
func (t *StageTimeline) Segments() []Segment {
	var segs []Segment
	for _, e := range t.Entries {
		if e.Gap || e.InsufficientData {
			continue
		}
		if n := len(segs); n > 0 && segs[n-1].Stage == e.Stage {
			segs[n-1].End = e.Date
			segs[n-1].Days++
			continue
		}
		segs = append(segs, Segment{
			ProductID: t.ProductID,
			Shop:      t.Shop,
			Stage:     e.Stage,
			Start:     e.Date,
			End:       e.Date,
			Days:      1,
		})
	}
	return segs
}
