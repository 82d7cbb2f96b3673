package recall

import (
	"errors"
	"math"
	"time"
)

const (
	// MinEaseFactor is the classic SM-2 lower bound on the ease factor.
	MinEaseFactor = 1.3

	// InitialEaseFactor is assigned when scheduling state is first created.
	InitialEaseFactor = 2.5

	// MinQuality and MaxQuality bound the review grade scale.
	MinQuality = 0
	MaxQuality = 5

	// passingQuality is the lowest grade counted as a successful recall.
	passingQuality = 3
)

// ErrInvalidQuality is returned for review grades outside [0,5].
var ErrInvalidQuality = errors.New("quality must be between 0 and 5")

// Advance applies one SM-2 review to the given scheduling state and returns
// the next state. It is a pure function of (state, quality, now); storage is
// not consulted.
//
// The ease factor always follows the SM-2 formula, including on failure: a
// failed recall restarts the spacing curve (interval 1, count 0) but does not
// reset the ease factor to its initial value.
func Advance(s Strength, quality int, now time.Time) (Strength, error) {
	if quality < MinQuality || quality > MaxQuality {
		return Strength{}, ErrInvalidQuality
	}

	miss := float64(MaxQuality - quality)
	ef := s.EaseFactor + (0.1 - miss*(0.08+miss*0.02))
	if ef < MinEaseFactor {
		ef = MinEaseFactor
	}

	next := s
	next.EaseFactor = ef
	next.Strength = float64(quality) / float64(MaxQuality)

	if quality < passingQuality {
		next.ReviewCount = 0
		next.IntervalDays = 1
	} else {
		next.ReviewCount = s.ReviewCount + 1
		switch next.ReviewCount {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Round(float64(s.IntervalDays) * ef))
		}
	}

	if next.IntervalDays < 1 {
		next.IntervalDays = 1
	}

	reviewed := now
	next.LastReviewAt = &reviewed
	next.NextReviewAt = now.AddDate(0, 0, next.IntervalDays)

	return next, nil
}
