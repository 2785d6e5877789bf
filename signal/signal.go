// Package signal adapts external directional scores to the simulator.
// A score's sign is the direction and its magnitude the conviction.
package signal

import (
	"errors"
	"fmt"
	"math"
)

// NeutralScore is used whenever a source cannot produce a usable score.
// It never opens or closes a position.
const NeutralScore = 0.0

// ErrNoScore is returned by sources that have nothing for an index.
var ErrNoScore = errors.New("no score for bar")

// Source returns the score for a bar index. Calling it twice with the
// same index must return the same value.
type Source interface {
	Score(idx int) (float64, error)
}

// Func adapts a plain function to Source.
type Func func(idx int) (float64, error)

func (f Func) Score(idx int) (float64, error) { return f(idx) }

// Guard calls src and turns errors, panics and non-finite values into
// NeutralScore with a non-nil error.
func Guard(src Source, idx int) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			score, err = NeutralScore, fmt.Errorf("signal source panic at bar %d: %v", idx, r)
		}
	}()

	s, err := src.Score(idx)
	if err != nil {
		return NeutralScore, fmt.Errorf("signal at bar %d: %w", idx, err)
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return NeutralScore, fmt.Errorf("signal at bar %d: non-finite score %v", idx, s)
	}
	return s, nil
}

// Static returns the same score for every bar.
type Static float64

func (s Static) Score(int) (float64, error) { return float64(s), nil }

// Slice serves scores from memory; indexes past the end have no score.
type Slice []float64

func (s Slice) Score(idx int) (float64, error) {
	if idx < 0 || idx >= len(s) {
		return NeutralScore, ErrNoScore
	}
	return s[idx], nil
}
