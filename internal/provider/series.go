package provider

import (
	"strconv"

	"github.com/tira-io/tirex-tracker/internal/model"
)

// peak keeps the maximum of a series of samples.
type peak struct {
	max float64
	n   int
}

func (p *peak) add(v float64) {
	if p.n == 0 || v > p.max {
		p.max = v
	}
	p.n++
}

func (p *peak) seen() bool { return p.n > 0 }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// wants turns a measure list into a set.
func wants(ms []model.Measure) map[model.Measure]bool {
	set := make(map[model.Measure]bool, len(ms))
	for _, m := range ms {
		set[m] = true
	}
	return set
}
