package faces

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder serves canned vectors per path, and errors for paths it does
// not know.
type fakeEncoder struct {
	vectors map[string]Vector
}

func (f *fakeEncoder) Encode(_ context.Context, imagePath string) (Vector, error) {
	v, ok := f.vectors[imagePath]
	if !ok {
		return nil, ErrNoFace
	}
	return v, nil
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 0.0, Distance(Vector{1, 2, 3}, Vector{1, 2, 3}))
	assert.InDelta(t, 5.0, Distance(Vector{0, 0}, Vector{3, 4}), 1e-9)

	// Mismatched or empty vectors can never match.
	assert.True(t, Distance(Vector{1}, Vector{1, 2}) > 1e18)
	assert.True(t, Distance(nil, nil) > 1e18)
}

func TestFindDuplicates_SortsMatchesDescending(t *testing.T) {
	enc := &fakeEncoder{vectors: map[string]Vector{
		"candidate.jpg": {0, 0},
		"near.jpg":      {0.1, 0},  // similarity 0.9
		"nearer.jpg":    {0.05, 0}, // similarity 0.95
		"far.jpg":       {3, 4},    // similarity -4, below threshold
	}}
	g := NewGate(enc, 0.4, zerolog.Nop())

	matches, err := g.FindDuplicates(context.Background(), "candidate.jpg",
		[]string{"near.jpg", "nearer.jpg", "far.jpg"})
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "nearer.jpg", matches[0].Path)
	assert.Equal(t, "near.jpg", matches[1].Path)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestFindDuplicates_NoMatchesIsEmptyNotError(t *testing.T) {
	enc := &fakeEncoder{vectors: map[string]Vector{
		"candidate.jpg": {0, 0},
		"other.jpg":     {10, 10},
	}}
	g := NewGate(enc, 0.4, zerolog.Nop())

	matches, err := g.FindDuplicates(context.Background(), "candidate.jpg", []string{"other.jpg"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindDuplicates_UnreadableCandidateIsNoEncoding(t *testing.T) {
	enc := &fakeEncoder{vectors: map[string]Vector{"known.jpg": {0, 0}}}
	g := NewGate(enc, 0.4, zerolog.Nop())

	_, err := g.FindDuplicates(context.Background(), "missing.jpg", []string{"known.jpg"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoEncoding))
}

func TestFindDuplicates_SkipsUnreadableKnownImages(t *testing.T) {
	enc := &fakeEncoder{vectors: map[string]Vector{
		"candidate.jpg": {0, 0},
		"twin.jpg":      {0, 0},
	}}
	g := NewGate(enc, 0.4, zerolog.Nop())

	// broken.jpg fails to encode; the scan must still find the real twin.
	matches, err := g.FindDuplicates(context.Background(), "candidate.jpg",
		[]string{"broken.jpg", "twin.jpg"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "twin.jpg", matches[0].Path)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestNewGate_DefaultsThreshold(t *testing.T) {
	g := NewGate(&fakeEncoder{}, 0, zerolog.Nop())
	assert.Equal(t, DefaultThreshold, g.threshold)
}
