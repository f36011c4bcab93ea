package models

// EventKind classifies the genealogical event an address belongs to.
type EventKind string

const (
	EventBirth     EventKind = "birth"
	EventDeath     EventKind = "death"
	EventMarriage  EventKind = "marriage"
	EventBurial    EventKind = "burial"
	EventResidence EventKind = "residence"
	EventOther     EventKind = "other"
)

// ResolutionStatus tracks where a reference is in its lifecycle.
type ResolutionStatus string

const (
	StatusPending    ResolutionStatus = "pending"
	StatusResolved   ResolutionStatus = "resolved"
	StatusUnresolved ResolutionStatus = "unresolved"
)

// ResolutionSource records which step of the pipeline satisfied a
// lookup.
type ResolutionSource string

const (
	SourceNone    ResolutionSource = "none"
	SourceCache   ResolutionSource = "cache"
	SourceAlias   ResolutionSource = "alias"
	SourceFuzzy   ResolutionSource = "fuzzy"
	SourceNetwork ResolutionSource = "network"
)

// PlaceRef is one event-owned resolution request. It is annotated in
// place during a run and never persisted; only the Location records it
// leads to are.
type PlaceRef struct {
	Event       EventKind // event this address belongs to
	Address     string    // free-text place name from the source record
	CountryHint string    // ISO country code supplied by the caller

	Position *LatLon          // filled in when resolution succeeds
	Status   ResolutionStatus // pending until the run reaches it
	Source   ResolutionSource // which pipeline step answered
}

// Progress is the snapshot handed to the orchestrator's progress
// callback after each processed reference.
type Progress struct {
	Address    string // address just processed
	Done       int    // references processed so far
	Target     int    // total references in the run
	Hits       int    // lookups served without the provider
	Misses     int    // lookups that needed the provider
	Failures   int    // provider calls that returned nothing
	NewEntries int    // cache entries created this run
}
