package model

// ProviderID identifies a capability source that supplies values for measures.
type ProviderID string

const (
	ProviderSystem ProviderID = "system"
	ProviderEnergy ProviderID = "energy"
	ProviderGPU    ProviderID = "gpu"
	ProviderGit    ProviderID = "git"
)

// Shape tells the session manager how a measure is collected.
type Shape string

const (
	// Instant measures are read once, when results are produced.
	Instant Shape = "instant"
	// Interval measures are sampled between start and stop.
	Interval Shape = "interval"
)

// MeasureInfo is the static metadata of a measure.
type MeasureInfo struct {
	Measure     Measure    `json:"measure" yaml:"measure"`
	Type        ResultType `json:"type" yaml:"type"`
	Shape       Shape      `json:"shape" yaml:"shape"`
	Provider    ProviderID `json:"provider" yaml:"provider"`
	Description string     `json:"description" yaml:"description"`
	Unit        string     `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// ProviderInfo describes a provider and whether it is usable on this host.
type ProviderInfo struct {
	ID          ProviderID `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	Available   bool       `json:"available"`
	Reason      string     `json:"reason,omitempty"`
}
