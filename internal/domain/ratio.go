package domain

import "encoding/json"

// Ratio is an efficiency ratio that may be undefined when its denominator is
// zero. The undefined state is explicit: no NaN, no Inf, no silent zero.
type Ratio struct {
	Value   float64
	Defined bool
}

// DefinedRatio builds a defined ratio value.
func DefinedRatio(v float64) Ratio {
	return Ratio{Value: v, Defined: true}
}

// Div divides num by den, returning an undefined Ratio when den is zero.
func Div(num, den float64) Ratio {
	if den == 0 {
		return Ratio{}
	}
	return Ratio{Value: num / den, Defined: true}
}

// Or returns the ratio's value, or fallback when undefined.
func (r Ratio) Or(fallback float64) float64 {
	if !r.Defined {
		return fallback
	}
	return r.Value
}

// MarshalJSON renders undefined ratios as null so serialized rows keep the
// distinction between "zero" and "not computable".
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON accepts null as the undefined state.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ratio{Value: v, Defined: true}
	return nil
}
