package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Completeness marks whether all expected source contributions were present
// for a product/day. PARTIAL and GAP days are excluded from ratio denominators
// downstream.
type Completeness int

const (
	Full Completeness = iota
	Partial
	Gap
)

func (c Completeness) String() string {
	switch c {
	case Full:
		return "FULL"
	case Partial:
		return "PARTIAL"
	case Gap:
		return "GAP"
	default:
		return "UNKNOWN"
	}
}

// ParseCompleteness maps a completeness name back to its enum value.
func ParseCompleteness(s string) (Completeness, error) {
	switch s {
	case "FULL":
		return Full, nil
	case "PARTIAL":
		return Partial, nil
	case "GAP":
		return Gap, nil
	default:
		return 0, fmt.Errorf("unknown completeness %q", s)
	}
}

// MarshalJSON renders completeness by name.
func (c Completeness) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts the completeness name.
func (c *Completeness) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseCompleteness(name)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value stores completeness as text.
func (c Completeness) Value() (driver.Value, error) {
	return c.String(), nil
}

// Scan reads completeness back from text.
func (c *Completeness) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseCompleteness(v)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	case []byte:
		return c.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan completeness from %T", src)
	}
}

// Key identifies exactly one CanonicalRecord: one product, one shop, one
// calendar day.
type Key struct {
	ProductID string
	Shop      string
	Date      time.Time
}

// Day normalizes a timestamp to a UTC calendar day, the only date granularity
// the engine operates on.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CanonicalRecord is the unified per-product per-day row produced by the
// merger. Source-derived fields are read-only after creation; the feature
// aggregator attaches derived values elsewhere, never here.
type CanonicalRecord struct {
	ProductID    string       `json:"product_id" db:"product_id"`
	Shop         string       `json:"shop" db:"shop"`
	Date         time.Time    `json:"date" db:"date"`
	Spend        float64      `json:"spend" db:"spend"`
	AdSales      float64      `json:"ad_sales" db:"ad_sales"`
	OrganicSales float64      `json:"organic_sales" db:"organic_sales"`
	Sales        float64      `json:"sales" db:"sales"`
	Impressions  float64      `json:"impressions" db:"impressions"`
	Clicks       float64      `json:"clicks" db:"clicks"`
	Orders       float64      `json:"orders" db:"orders"`
	AdOrders     float64      `json:"ad_orders" db:"ad_orders"`
	Units        float64      `json:"units" db:"units"`
	Sessions     float64      `json:"sessions" db:"sessions"`
	Inventory    *float64     `json:"inventory,omitempty" db:"inventory"`
	Category     string       `json:"category,omitempty" db:"category"`
	ProductName  string       `json:"product_name,omitempty" db:"product_name"`
	Status       string       `json:"status,omitempty" db:"status"`
	Completeness Completeness `json:"completeness" db:"completeness"`

	// HasAd / HasAnalysis record which halves of the join contributed.
	HasAd       bool `json:"has_ad" db:"has_ad"`
	HasAnalysis bool `json:"has_analysis" db:"has_analysis"`
}

// Key returns the record's natural key with the date normalized to a day.
func (r CanonicalRecord) Key() Key {
	return Key{ProductID: r.ProductID, Shop: r.Shop, Date: Day(r.Date)}
}

// InventoryKnown reports whether an inventory level was observed for this day.
func (r CanonicalRecord) InventoryKnown() bool {
	return r.Inventory != nil
}
