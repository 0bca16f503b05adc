// Package faces implements the duplicate-identity admission gate.  The
// biometric math itself lives behind the Encoder interface; the gate owns
// the threshold policy and the distinction between "no duplicates" and
// "could not evaluate".
package faces

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// DefaultThreshold is deliberately low: a false positive costs one manual
// review, a false negative grants door access to a duplicate identity.
const DefaultThreshold = 0.4

var (
	// ErrNoFace is returned by encoders when no face is detectable.
	ErrNoFace = errors.New("no face detected")

	// ErrNoEncoding means the candidate image could not be evaluated at
	// all.  Callers must treat this differently from an empty match list —
	// an unevaluable image is not a clean one.
	ErrNoEncoding = errors.New("candidate face could not be encoded")
)

// Vector is a face feature vector as produced by an encoder.
type Vector []float64

// Encoder extracts a feature vector from an image.  Implementations return
// ErrNoFace when nothing detectable is in frame; when several faces are
// present they use the first and may log a warning.
type Encoder interface {
	Encode(ctx context.Context, imagePath string) (Vector, error)
}

// Distance is the euclidean distance between two vectors.  Mismatched
// lengths yield +Inf, which can never produce a match.
func Distance(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match is one known image scoring at or above the threshold.
type Match struct {
	Path       string
	Similarity float64
}

type Gate struct {
	enc       Encoder
	threshold float64
	logger    zerolog.Logger
}

func NewGate(enc Encoder, threshold float64, logger zerolog.Logger) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{enc: enc, threshold: threshold, logger: logger}
}

// FindDuplicates scores the candidate against every known image and returns
// all matches at or above the threshold, sorted by similarity descending so
// the caller can cite the strongest evidence.
//
// Known images that fail extraction are skipped with a warning — one bad
// archive image must not abort the whole scan.  A candidate that fails
// extraction returns ErrNoEncoding instead, never an empty result.
func (g *Gate) FindDuplicates(ctx context.Context, candidatePath string, knownPaths []string) ([]Match, error) {
	candidate, err := g.enc.Encode(ctx, candidatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoEncoding, candidatePath, err)
	}

	var matches []Match
	for _, knownPath := range knownPaths {
		known, err := g.enc.Encode(ctx, knownPath)
		if err != nil {
			g.logger.Warn().Err(err).Str("path", knownPath).
				Msg("skipping unreadable known face")
			continue
		}

		similarity := 1 - Distance(candidate, known)
		if similarity >= g.threshold {
			g.logger.Warn().
				Str("candidate", candidatePath).
				Str("match", knownPath).
				Float64("similarity", similarity).
				Msg("potential duplicate face")
			matches = append(matches, Match{Path: knownPath, Similarity: similarity})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, nil
}
