package delta

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	ID   string
	Dest string
	Qty  int
}

func (r rec) SourceID() string                { return r.ID }
func (r rec) DestinationID() string           { return r.Dest }
func (r rec) WithDestinationID(id string) rec { r.Dest = id; return r }
func (r rec) Equal(o rec) bool                { return r.ID == o.ID && r.Qty == o.Qty }

func ids(items []rec) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestComputeWorkedExamples(t *testing.T) {
	t.Parallel()

	m := Compute([]rec{{ID: "A", Qty: 5}}, []rec{{ID: "A", Qty: 5}, {ID: "B", Qty: 2}})
	assert.Equal(t, []string{"B"}, ids(m.Created))
	assert.Empty(t, m.Updated)
	assert.Empty(t, m.Deleted)

	m = Compute([]rec{{ID: "A"}, {ID: "C"}}, []rec{{ID: "A"}})
	assert.Empty(t, m.Created)
	assert.Equal(t, []string{"C"}, ids(m.Deleted))
}

func TestComputeCarriesDestinationIDOnUpdate(t *testing.T) {
	t.Parallel()
	m := Compute([]rec{{ID: "A", Dest: "d-1", Qty: 1}}, []rec{{ID: "A", Qty: 2}})
	require.Len(t, m.Updated, 1)
	assert.Equal(t, "d-1", m.Updated[0].Dest)
	assert.Equal(t, 2, m.Updated[0].Qty)
}

func TestComputeEmptyTrackedCreatesEverything(t *testing.T) {
	t.Parallel()
	m := Compute(nil, []rec{{ID: "A"}, {ID: "B"}})
	assert.Equal(t, []string{"A", "B"}, ids(m.Created))
	assert.Empty(t, m.Deleted)
}

func TestComputeDuplicateSourceLastWins(t *testing.T) {
	t.Parallel()
	m := Compute(nil, []rec{{ID: "A", Qty: 1}, {ID: "B"}, {ID: "A", Qty: 3}})
	require.Equal(t, []string{"B", "A"}, ids(m.Created))
	assert.Equal(t, 3, m.Created[1].Qty)
}

func TestComputeIsCompleteAndIdempotent(t *testing.T) {
	t.Parallel()
	tracked := []rec{{ID: "A", Qty: 1}, {ID: "B", Qty: 1}, {ID: "C", Qty: 1}}
	source := []rec{{ID: "B", Qty: 1}, {ID: "C", Qty: 2}, {ID: "D", Qty: 1}}

	m := Compute(tracked, source)
	seen := map[string]int{}
	for _, it := range m.All() {
		seen[it.ID]++
	}
	// B unchanged, every other id classified exactly once
	assert.Equal(t, map[string]int{"A": 1, "C": 1, "D": 1}, seen)

	next, _ := Cache[rec]{Tracked: tracked}.Merge(m, 0)
	again := Compute(next.Tracked, source)
	assert.False(t, again.HasChanges())
}

func TestWithoutSkipped(t *testing.T) {
	t.Parallel()
	m := Compute([]rec{{ID: "X"}}, []rec{{ID: "A"}, {ID: "B"}})
	m = m.WithoutSkipped([]rec{{ID: "B"}, {ID: "X"}})
	assert.Equal(t, []string{"A"}, ids(m.Created))
	assert.Empty(t, m.Deleted)
}

func TestLimitDefersExcess(t *testing.T) {
	t.Parallel()
	source := make([]rec, 0, 100)
	for i := range 100 {
		source = append(source, rec{ID: fmt.Sprintf("r%03d", i)})
	}
	m := Compute(nil, source)

	capped, deferred := m.Limit(10)
	assert.Len(t, capped.All(), 10)
	assert.Equal(t, 90, deferred)

	// deferred items stay eligible: they are still absent from tracked
	next, _ := Cache[rec]{}.Merge(capped, 0)
	again := Compute(next.Tracked, source)
	assert.Len(t, again.Created, 90)
}

func TestLimitOrder(t *testing.T) {
	t.Parallel()
	m := Model[rec]{
		Created: []rec{{ID: "c1"}},
		Updated: []rec{{ID: "u1"}, {ID: "u2"}},
		Deleted: []rec{{ID: "d1"}},
	}
	capped, deferred := m.Limit(2)
	assert.Equal(t, []string{"c1", "u1"}, ids(capped.All()))
	assert.Equal(t, 2, deferred)

	same, deferred := m.Limit(0)
	assert.Equal(t, m, same)
	assert.Zero(t, deferred)
}

func TestMergeRules(t *testing.T) {
	t.Parallel()
	cache := Cache[rec]{
		Tracked: []rec{{ID: "A", Dest: "d-a", Qty: 1}, {ID: "B", Dest: "d-b"}, {ID: "F", Dest: "d-f", Qty: 1}},
		Skipped: []rec{{ID: "S"}},
	}
	outcome := Model[rec]{
		Created: []rec{{ID: "N", Dest: "d-n"}},
		Updated: []rec{{ID: "A", Dest: "d-a", Qty: 2}},
		Deleted: []rec{{ID: "B", Dest: "d-b"}},
		Skipped: []rec{{ID: "R"}, {ID: "S"}},
		Failed:  []rec{{ID: "F", Dest: "d-f", Qty: 9}, {ID: "G"}},
	}

	next, dead := cache.Merge(outcome, 0)
	assert.Empty(t, dead)
	assert.Equal(t, []string{"A", "F", "N"}, ids(next.Tracked))
	assert.Equal(t, 2, next.Tracked[0].Qty)
	// failed update leaves the tracked version in place
	assert.Equal(t, 1, next.Tracked[1].Qty)
	assert.Equal(t, []string{"S", "R"}, ids(next.Skipped))
	assert.Equal(t, map[string]int{"F": 1, "G": 1}, next.Failures)
}

func TestMergeDeadLetterCeiling(t *testing.T) {
	t.Parallel()
	cache := Cache[rec]{}
	failed := Model[rec]{Failed: []rec{{ID: "G"}}}

	var dead []rec
	for range 3 {
		cache, dead = cache.Merge(failed, 3)
	}
	assert.Equal(t, []string{"G"}, ids(dead))
	assert.Equal(t, []string{"G"}, ids(cache.Skipped))
	assert.Empty(t, cache.Failures)

	// a successful apply resets the counter
	cache = Cache[rec]{Failures: map[string]int{"H": 2}}
	cache, _ = cache.Merge(Model[rec]{Created: []rec{{ID: "H", Dest: "d-h"}}}, 3)
	assert.Empty(t, cache.Failures)
}

func TestPruneFailures(t *testing.T) {
	t.Parallel()
	cache := Cache[rec]{
		Tracked:  []rec{{ID: "T"}},
		Failures: map[string]int{"T": 1, "gone": 4, "S": 2},
	}
	cache = cache.PruneFailures([]rec{{ID: "S"}})
	assert.Equal(t, map[string]int{"T": 1, "S": 2}, cache.Failures)
}
