package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicIsStableAcrossCalls(t *testing.T) {
	p := NewDeterministic(32, true, 7)
	v1, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 32)
}

func TestDeterministicDiffersByText(t *testing.T) {
	p := NewDeterministic(32, false, 0)
	v1, _ := p.Embed(context.Background(), "alpha")
	v2, _ := p.Embed(context.Background(), "beta")
	assert.NotEqual(t, v1, v2)
}

func TestCachedProviderCachesResult(t *testing.T) {
	inner := NewDeterministic(16, false, 1)
	cached := NewCached(inner, 10)

	v1, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}
