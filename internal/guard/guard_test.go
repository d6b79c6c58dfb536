package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleReadsResidentMemory(t *testing.T) {
	g, err := NewProcessGuard()
	require.NoError(t, err)

	sample, err := g.Sample()
	require.NoError(t, err)
	assert.Greater(t, sample.ResidentBytes, uint64(0))
}

func TestShouldReclaim(t *testing.T) {
	g := &ProcessGuard{}

	tests := []struct {
		name      string
		resident  uint64
		threshold uint64
		want      bool
	}{
		{"below threshold", 100, 200, false},
		{"at threshold", 200, 200, false},
		{"above threshold", 201, 200, true},
		{"zero threshold disables", 1 << 40, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.ShouldReclaim(ResourceSample{ResidentBytes: tt.resident}, tt.threshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldRecycleHandle(t *testing.T) {
	g := &ProcessGuard{}

	assert.False(t, g.ShouldRecycleHandle(0, 5))
	assert.False(t, g.ShouldRecycleHandle(4, 5))
	assert.True(t, g.ShouldRecycleHandle(5, 5))
	assert.True(t, g.ShouldRecycleHandle(6, 5))
}

func TestReclaimDoesNotPanic(t *testing.T) {
	g, err := NewProcessGuard()
	require.NoError(t, err)
	g.Reclaim()
}
