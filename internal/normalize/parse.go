package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// emptyLike cell contents that mean "no value" rather than garbage. These
// parse as zero without error; anything else non-numeric is rejected.
var emptyLike = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"nan":  true,
	"none": true,
	"null": true,
	"n/a":  true,
	"na":   true,
}

var currencyRunes = map[rune]bool{'$': true, '￥': true, '¥': true, '€': true, '£': true}

// ParseNumber converts locale-formatted report cells to float64:
// "1,234.56", "1.234,56", "$12.30", "￥9.9", "3.5%", " 7 ". Empty-like cells
// parse as zero; non-numeric garbage returns an error.
func ParseNumber(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if emptyLike[strings.ToLower(s)] {
		return 0, nil
	}

	var b strings.Builder
	for _, r := range s {
		if currencyRunes[r] || r == '%' || r == ' ' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()
	if s == "" {
		return 0, nil
	}

	// Disambiguate thousand vs decimal separators: when both appear, the
	// later one is the decimal point. A lone comma followed by 1-2 digits is
	// a decimal comma; otherwise commas group thousands.
	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-comma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	f, _ := d.Float64()
	return f, nil
}

// excel serial day bounds covering years 2000..2100.
const (
	excelSerialMin = 36526
	excelSerialMax = 73051
)

var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"20060102",
	"2006-1-2",
	"2006/1/2",
}

// ParseDate accepts the date shapes the exports produce: ISO-ish strings,
// compact YYYYMMDD, and raw Excel serial numbers.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	// Excel serial, sometimes exported as "45998" or "45998.0".
	if d, err := decimal.NewFromString(s); err == nil {
		serial := d.IntPart()
		if serial >= excelSerialMin && serial <= excelSerialMax {
			return excelEpoch.AddDate(0, 0, int(serial)), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

var pausedKeywords = []string{
	"paused", "pause", "stopped", "disabled", "inactive", "ended", "archived",
	"暂停", "停用", "停投", "关闭", "已结束", "已终止", "终止", "停止",
}

// NormalizeStatus trims status text and collapses the export's many spellings
// of "empty" to the empty string. Original wording is preserved otherwise.
func NormalizeStatus(raw string) string {
	s := strings.TrimSpace(raw)
	if emptyLike[strings.ToLower(s)] {
		return ""
	}
	return s
}

// IsPausedStatus reports whether a status marks the entity as paused,
// disabled, or otherwise not running. Used to suppress action recommendations
// for entities nobody can act on.
func IsPausedStatus(status string) bool {
	s := NormalizeStatus(status)
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, kw := range pausedKeywords {
		if strings.Contains(lower, kw) || strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
