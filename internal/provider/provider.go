// Package provider holds the capability sources the tracker reads measures
// from. Each provider declares its measures, probes its availability once,
// and serves instant measures through FetchOne and interval measures through
// a Sample begun at start and ended at stop.
package provider

import (
	"context"

	"github.com/tira-io/tirex-tracker/internal/model"
)

// Provider defines the interface every capability source implements.
type Provider interface {
	// ID returns the unique identifier of this provider.
	ID() model.ProviderID
	// Name returns a human-readable name.
	Name() string
	// Description returns what this provider collects.
	Description() string
	// Version returns the version of the backing library or tool.
	Version() string
	// Measures returns the metadata of every measure this provider serves.
	Measures() []model.MeasureInfo
	// Probe checks whether the provider works on this host.
	Probe(ctx context.Context) error
	// FetchOne reads an instant measure.
	FetchOne(ctx context.Context, m model.Measure) (string, error)
	// BeginSample starts collecting the given interval measures.
	BeginSample(ctx context.Context, ms []model.Measure) (Sample, error)
}

// Sample is the in-flight collection state of one provider within one
// tracking session. Step and End are never called concurrently.
type Sample interface {
	// Step takes one intermediate sample.
	Step(ctx context.Context)
	// End takes the final sample and returns one reading per measure the
	// sample was begun with.
	End(ctx context.Context) map[model.Measure]Reading
}

// Reading is the raw outcome for one measure.
type Reading struct {
	Value string
	Err   error
}

func ok(v string) Reading       { return Reading{Value: v} }
func failed(err error) Reading { return Reading{Err: err} }

var (
	ErrProviderUnavailable = model.NewError("provider unavailable")
	ErrUnsupportedMeasure  = model.NewError("unsupported measure")
	ErrNotAvailable        = model.NewError("value not available on this host")
)

// Builtin returns the providers shipped with the tracker.
func Builtin() []Provider {
	return []Provider{
		NewSystemProvider(),
		NewEnergyProvider(),
		NewGPUProvider(),
		NewGitProvider(""),
	}
}
