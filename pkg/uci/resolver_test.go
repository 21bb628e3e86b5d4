package uci

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

const fooPipeline = "data_sender.1=collection\n" +
	"data_sender.1.name='foo'\n" +
	"data_sender.1.input='3'\n" +
	"data_sender.1.output='2'\n" +
	"data_sender.2=output\n" +
	"data_sender.3=input"

func staticLookup(types map[string]string) TypeLookup {
	return func(_ context.Context, id string) (string, error) {
		if typ, ok := types[id]; ok {
			return typ, nil
		}
		return "", errors.New("uci: Entry not found")
	}
}

func TestResolveByName(t *testing.T) {
	r := NewResolver(DefaultStrategies(staticLookup(map[string]string{"1": "collection"}))...)
	got := r.Resolve(context.Background(), Parse(fooPipeline), "foo")

	assert.Equal(t, Sections{Collection: "1", Output: "2", Input: "3"}, got.Sections)
	assert.Equal(t, StrategyName, got.Strategy)
	assert.False(t, got.Degraded)
}

func TestResolveByNameWithoutLookup(t *testing.T) {
	r := NewResolver(DefaultStrategies(nil)...)
	got := r.Resolve(context.Background(), Parse(fooPipeline), "foo")
	assert.Equal(t, Sections{Collection: "1", Output: "2", Input: "3"}, got.Sections)
}

func TestResolveAnchorOnOutput(t *testing.T) {
	text := `data_sender.4=input
data_sender.5=output
data_sender.5.name='bar_output'
data_sender.6=collection
data_sender.6.name='bar'
data_sender.6.input='4'
data_sender.6.output='5'
`
	r := NewResolver(DefaultStrategies(staticLookup(map[string]string{"5": "output"}))...)
	got := r.Resolve(context.Background(), Parse(text), "bar_output")
	assert.Equal(t, Sections{Collection: "6", Output: "5", Input: "4"}, got.Sections)
	assert.Equal(t, StrategyName, got.Strategy)
}

func TestResolveAnchorOnInput(t *testing.T) {
	text := `data_sender.8=input
data_sender.8.name='input8'
data_sender.9=collection
data_sender.9.input='8'
data_sender.9.output='10'
`
	r := NewResolver(DefaultStrategies(nil)...)
	got := r.Resolve(context.Background(), Parse(text), "input8")
	assert.Equal(t, Sections{Collection: "9", Output: "10", Input: "8"}, got.Sections)
}

func TestResolveLookupFailureFallsBackToTableType(t *testing.T) {
	r := NewResolver(DefaultStrategies(staticLookup(nil))...)
	got := r.Resolve(context.Background(), Parse(fooPipeline), "foo")
	assert.Equal(t, "1", got.Collection)
	assert.Equal(t, StrategyName, got.Strategy)
}

func TestResolveByReference(t *testing.T) {
	text := `data_sender.11=collection
data_sender.11.name='other'
data_sender.11.input='13'
data_sender.11.output='12'
`
	r := NewResolver(DefaultStrategies(nil)...)
	got := r.Resolve(context.Background(), Parse(text), "foo")
	assert.Equal(t, Sections{Collection: "11", Output: "12", Input: "13"}, got.Sections)
	assert.Equal(t, StrategyReference, got.Strategy)
	assert.False(t, got.Degraded)
}

func TestResolveNameMatchWithoutReferencesFallsThrough(t *testing.T) {
	text := `data_sender.1=input
data_sender.1.name='foo'
`
	r := NewResolver(DefaultStrategies(nil)...)
	got := r.Resolve(context.Background(), Parse(text), "foo")
	assert.True(t, got.Degraded)
	assert.Equal(t, FallbackSections, got.Sections)
}

func TestResolveFallbackIsDeterministic(t *testing.T) {
	inputs := []string{
		"",
		"garbage\nmore garbage",
		"data_sender.1=collection\ndata_sender.1.input='3'",
		"data_sender.1=collection\ndata_sender.1.output='3'",
		"data_sender.1=output\ndata_sender.2=input\ndata_sender.3=settings",
		"data_sender.1=collection\ndata_sender.1.name='bar'\ndata_sender.1.input='1'",
	}
	r := NewResolver(DefaultStrategies(nil)...)
	for _, text := range inputs {
		got := r.Resolve(context.Background(), Parse(text), "foo")
		if got.Sections != (Sections{Collection: "2", Output: "3", Input: "5"}) {
			t.Errorf("Resolve(%q) = %+v, want fallback", text, got.Sections)
		}
		if !got.Degraded || got.Strategy != StrategyFallback {
			t.Errorf("Resolve(%q) degraded=%v strategy=%q", text, got.Degraded, got.Strategy)
		}
	}
}

func TestResolveNilTable(t *testing.T) {
	r := NewResolver(DefaultStrategies(nil)...)
	got := r.Resolve(context.Background(), nil, "foo")
	assert.True(t, got.Degraded)
}

func TestResolveWithoutStrategies(t *testing.T) {
	got := NewResolver().Resolve(context.Background(), Parse(fooPipeline), "foo")
	assert.True(t, got.Degraded)
	assert.Equal(t, FallbackSections, got.Sections)
}

func TestResolveToleratesSelfReference(t *testing.T) {
	text := `data_sender.1=collection
data_sender.1.name='loop'
data_sender.1.input='1'
data_sender.1.output='1'
`
	r := NewResolver(DefaultStrategies(nil)...)
	got := r.Resolve(context.Background(), Parse(text), "loop")
	assert.Equal(t, Sections{Collection: "1", Output: "1", Input: "1"}, got.Sections)
}

func TestSectionsIDs(t *testing.T) {
	assert.Equal(t, []string{"1", "3"}, Sections{Collection: "1", Input: "3"}.IDs())
}
