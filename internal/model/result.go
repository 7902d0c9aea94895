package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ResultType governs how a ResultEntry's value is interpreted.
type ResultType int

const (
	String ResultType = iota
	Integer
	Floating
)

func (t ResultType) String() string {
	switch t {
	case String:
		return "STRING"
	case Integer:
		return "INTEGER"
	case Floating:
		return "FLOATING"
	}
	return fmt.Sprintf("ResultType(%d)", int(t))
}

// ParseResultType parses STRING, INTEGER or FLOATING (case-insensitive).
func ParseResultType(s string) (ResultType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STRING":
		return String, nil
	case "INTEGER":
		return Integer, nil
	case "FLOATING":
		return Floating, nil
	}
	return 0, fmt.Errorf("%w: unknown result type %q", ErrInvalidArgument, s)
}

func (t ResultType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ResultType) UnmarshalText(b []byte) error {
	v, err := ParseResultType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ResultEntry is one typed, string-encoded measurement outcome.
type ResultEntry struct {
	Source Measure    `json:"source" yaml:"source"`
	Type   ResultType `json:"type" yaml:"type"`
	Value  string     `json:"value" yaml:"value"`
}

// Int parses the value of an INTEGER entry.
func (e ResultEntry) Int() (int64, error) { return strconv.ParseInt(e.Value, 10, 64) }

// Float parses the value of an INTEGER or FLOATING entry.
func (e ResultEntry) Float() (float64, error) { return strconv.ParseFloat(e.Value, 64) }

// Results maps each successfully measured Measure to its entry. A missing key
// means the measure could not be measured.
type Results map[Measure]ResultEntry

// Measures returns the keys sorted by name.
func (r Results) Measures() []Measure {
	out := make([]Measure, 0, len(r))
	for m := range r {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get returns the entry for m.
func (r Results) Get(m Measure) (ResultEntry, bool) {
	e, ok := r[m]
	return e, ok
}

// Union returns a new Results holding r plus every entry of other whose
// measure r does not already hold.
func (r Results) Union(other Results) Results {
	out := make(Results, len(r)+len(other))
	for m, e := range other {
		out[m] = e
	}
	for m, e := range r {
		out[m] = e
	}
	return out
}

// Wrap validates raw against info.Type and builds the entry.
func Wrap(info MeasureInfo, raw string) (ResultEntry, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ResultEntry{}, fmt.Errorf("%w: %s: empty value", ErrMalformedValue, info.Measure)
	}
	switch info.Type {
	case Integer:
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return ResultEntry{}, fmt.Errorf("%w: %s: %q is not an integer", ErrMalformedValue, info.Measure, v)
		}
	case Floating:
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return ResultEntry{}, fmt.Errorf("%w: %s: %q is not a number", ErrMalformedValue, info.Measure, v)
		}
	case String:
	default:
		return ResultEntry{}, fmt.Errorf("%w: %s: unknown type %v", ErrInternal, info.Measure, info.Type)
	}
	return ResultEntry{Source: info.Measure, Type: info.Type, Value: v}, nil
}

// MergeAll builds a Results from entries. A measure appearing twice is an
// invariant violation.
func MergeAll(entries []ResultEntry) (Results, error) {
	out := make(Results, len(entries))
	for _, e := range entries {
		if _, dup := out[e.Source]; dup {
			return nil, fmt.Errorf("%w: duplicate measure %s", ErrInternal, e.Source)
		}
		out[e.Source] = e
	}
	return out, nil
}
