package uci

import (
	"context"
	"strings"
)

// FallbackSections is returned when no strategy can locate an instance.
// Callers must treat checks against these ids as best-effort.
var FallbackSections = Sections{Collection: "2", Output: "3", Input: "5"}

// Strategy names reported in Resolution.Strategy.
const (
	StrategyName      = "name"
	StrategyReference = "reference"
	StrategyFallback  = "fallback"
)

// Sections identifies the three sections of one forwarding pipeline.
type Sections struct {
	Collection string `json:"collection"`
	Output     string `json:"output"`
	Input      string `json:"input"`
}

// IDs returns the non-empty ids in collection, output, input order.
func (s Sections) IDs() []string {
	var ids []string
	for _, id := range []string{s.Collection, s.Output, s.Input} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Resolution is the outcome of Resolver.Resolve.
type Resolution struct {
	Sections

	// Strategy names the strategy that produced the sections.
	Strategy string `json:"strategy"`

	// Degraded is true when the ids are the hardcoded fallback.
	Degraded bool `json:"degraded"`
}

// Strategy is one step of the resolution chain.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, t *Table, instance string) (Sections, bool)
}

// TypeLookup returns the bare type of a section, as printed by
// `uci get <pkg>.<id>`.
type TypeLookup func(ctx context.Context, id string) (string, error)

// RunnerTypeLookup reads section types of pkg through r.
func RunnerTypeLookup(r *Runner, pkg string) TypeLookup {
	return func(ctx context.Context, id string) (string, error) {
		return r.Get(ctx, pkg+"."+id)
	}
}

// NameStrategy anchors on the section whose name option equals the instance
// name and follows input/output references one hop in either direction.
type NameStrategy struct {
	// Lookup reads the anchor's type from the device. When nil or failing,
	// the type from the parsed table is used.
	Lookup TypeLookup
}

// Name implements Strategy.
func (NameStrategy) Name() string { return StrategyName }

// Resolve implements Strategy.
func (s NameStrategy) Resolve(ctx context.Context, t *Table, instance string) (Sections, bool) {
	if instance == "" {
		return Sections{}, false
	}
	var anchor *Section
	for _, sec := range t.Sections() {
		if v, ok := sec.Get("name"); ok && v.String() == instance {
			anchor = sec
			break
		}
	}
	if anchor == nil {
		return Sections{}, false
	}

	typ := anchor.Type
	if s.Lookup != nil {
		if looked, err := s.Lookup(ctx, anchor.ID); err == nil {
			if looked = strings.TrimSpace(Unquote(strings.TrimSpace(looked))); looked != "" {
				typ = looked
			}
		}
	}

	switch {
	case typ == TypeInput || typ == TypeOutput:
		coll, ok := t.FindByOption(typ, anchor.ID)
		if !ok {
			return Sections{}, false
		}
		res := collectionSections(coll)
		if typ == TypeInput {
			res.Input = anchor.ID
		} else {
			res.Output = anchor.ID
		}
		return res, true
	case typ == TypeCollection || anchor.Has(TypeInput) || anchor.Has(TypeOutput):
		return collectionSections(anchor), true
	}
	return Sections{}, false
}

// ReferenceStrategy picks the first section that references both an input
// and an output.
type ReferenceStrategy struct{}

// Name implements Strategy.
func (ReferenceStrategy) Name() string { return StrategyReference }

// Resolve implements Strategy.
func (ReferenceStrategy) Resolve(_ context.Context, t *Table, _ string) (Sections, bool) {
	for _, sec := range t.Sections() {
		if sec.Has(TypeInput) && sec.Has(TypeOutput) {
			return collectionSections(sec), true
		}
	}
	return Sections{}, false
}

// FallbackStrategy always succeeds with FallbackSections.
type FallbackStrategy struct{}

// Name implements Strategy.
func (FallbackStrategy) Name() string { return StrategyFallback }

// Resolve implements Strategy.
func (FallbackStrategy) Resolve(context.Context, *Table, string) (Sections, bool) {
	return FallbackSections, true
}

func collectionSections(sec *Section) Sections {
	res := Sections{Collection: sec.ID}
	if v, ok := sec.Get(TypeInput); ok {
		res.Input = firstItem(v)
	}
	if v, ok := sec.Get(TypeOutput); ok {
		res.Output = firstItem(v)
	}
	return res
}

func firstItem(v Value) string {
	items := v.List()
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

// Resolver tries strategies in order until one succeeds.
type Resolver struct {
	strategies []Strategy
}

// NewResolver returns a resolver over the given strategies.
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// DefaultStrategies returns name, reference and fallback strategies.
func DefaultStrategies(lookup TypeLookup) []Strategy {
	return []Strategy{
		NameStrategy{Lookup: lookup},
		ReferenceStrategy{},
		FallbackStrategy{},
	}
}

// Resolve never fails. When every configured strategy declines, the
// fallback ids are returned with Degraded set.
func (r *Resolver) Resolve(ctx context.Context, t *Table, instance string) Resolution {
	if t == nil {
		t = NewTable("")
	}
	for _, s := range r.strategies {
		secs, ok := s.Resolve(ctx, t, instance)
		if !ok {
			continue
		}
		return Resolution{
			Sections: secs,
			Strategy: s.Name(),
			Degraded: s.Name() == StrategyFallback,
		}
	}
	return Resolution{Sections: FallbackSections, Strategy: StrategyFallback, Degraded: true}
}
