// Package fsrs implements the two-component (stability, difficulty)
// forgetting-curve scheduler that decides when a card is next due.
//
// Scheduling is a pure function of the prior card state, the rating, and the
// clock; the caller persists the result.
package fsrs

import (
	"fmt"
	"math"
	"time"

	"github.com/mdstudy/mdstudy/internal/domain"
)

// Params holds the 19 model weights plus the scheduling knobs around them.
type Params struct {
	Weights          [19]float64
	DesiredRetention float64 // target recall probability, in (0, 1)
	MaximumInterval  int     // days
	LearningSteps    []time.Duration
	RelearningSteps  []time.Duration
	EasyBonus        float64 // >1, stretches Easy intervals
	HardInterval     float64 // <1, damps Hard intervals
}

// DefaultWeights are the published FSRS-4.5 default parameter values.
var DefaultWeights = [19]float64{
	0.4872, 1.4003, 3.7145, 13.8206,
	5.1618, 1.2298, 0.8975, 0.031,
	1.6474, 0.1367, 1.0461, 2.1072,
	0.0793, 0.3246, 1.587, 0.2272,
	2.8755, 0.6521, 0.0234,
}

// DefaultParams returns the stock configuration: 90% retention, two learning
// steps of 1m and 10m, one relearning step of 10m.
func DefaultParams() *Params {
	return &Params{
		Weights:          DefaultWeights,
		DesiredRetention: 0.9,
		MaximumInterval:  36500,
		LearningSteps:    []time.Duration{time.Minute, 10 * time.Minute},
		RelearningSteps:  []time.Duration{10 * time.Minute},
		EasyBonus:        1.3,
		HardInterval:     0.8,
	}
}

const (
	minStability  = 0.01
	minDifficulty = 1.0
	maxDifficulty = 10.0
)

// Schedule applies a rating to a card state at the given time and returns
// the updated state plus the review log entry to append. The input state is
// not mutated and no I/O happens here.
func (p *Params) Schedule(cs domain.CardState, rating domain.Rating, now time.Time) (domain.CardState, domain.ReviewLog, error) {
	if !rating.IsValid() {
		return domain.CardState{}, domain.ReviewLog{}, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}
	if !cs.State.IsValid() {
		return domain.CardState{}, domain.ReviewLog{}, fmt.Errorf("%w: %d", domain.ErrInvalidState, int(cs.State))
	}

	prevScheduled := cs.ScheduledDays

	var elapsed float64
	if cs.State != domain.StateNew && cs.LastReview != nil {
		elapsed = now.Sub(*cs.LastReview).Hours() / 24.0
		if elapsed < 0 {
			elapsed = 0
		}
	}

	p.updateMemory(&cs, rating, elapsed)
	p.transition(&cs, rating, now)

	cs.ElapsedDays = int(elapsed)
	cs.Reps++
	lr := now
	cs.LastReview = &lr

	log := domain.ReviewLog{
		CardID:        cs.CardID,
		Rating:        rating,
		ScheduledDays: prevScheduled,
		ActualDays:    int(elapsed),
		ReviewDate:    now,
		Stability:     cs.Stability,
		Difficulty:    cs.Difficulty,
		ElapsedDays:   int(elapsed),
		Lapses:        cs.Lapses,
		Reps:          cs.Reps,
		State:         cs.State,
	}
	return cs, log, nil
}

// Preview returns the card state that each possible rating would produce.
func (p *Params) Preview(cs domain.CardState, now time.Time) map[domain.Rating]domain.CardState {
	out := make(map[domain.Rating]domain.CardState, 4)
	for _, r := range []domain.Rating{domain.Again, domain.Hard, domain.Good, domain.Easy} {
		next, _, err := p.Schedule(cs, r, now)
		if err != nil {
			continue
		}
		out[r] = next
	}
	return out
}

// Retrievability returns the predicted recall probability for a card at the
// given time, or 0 for a card that has never been reviewed.
func (p *Params) Retrievability(cs domain.CardState, now time.Time) float64 {
	if cs.LastReview == nil || cs.Stability <= 0 {
		return 0
	}
	elapsed := now.Sub(*cs.LastReview).Hours() / 24.0
	if elapsed < 0 {
		elapsed = 0
	}
	return retrievability(elapsed, cs.Stability)
}

// retrievability computes R(t, S) = (1 + t/(9S))^-1.
func retrievability(elapsedDays, stability float64) float64 {
	return math.Pow(1+elapsedDays/(9*stability), -1)
}

// updateMemory advances stability and difficulty for the rating.
func (p *Params) updateMemory(cs *domain.CardState, rating domain.Rating, elapsed float64) {
	w := &p.Weights
	if cs.State == domain.StateNew {
		cs.Stability = clampS(w[int(rating)-1])
		cs.Difficulty = clampD(p.initDifficulty(rating))
		return
	}

	r := retrievability(elapsed, math.Max(cs.Stability, minStability))

	// Difficulty: linear damping toward 10, then mean reversion toward the
	// Easy initial value.
	deltaD := -w[6] * (float64(rating) - 3)
	d := cs.Difficulty + deltaD*(10-cs.Difficulty)/9
	d = w[7]*p.initDifficulty(domain.Easy) + (1-w[7])*d
	cs.Difficulty = clampD(d)

	if rating == domain.Again {
		cs.Stability = clampS(p.forgetStability(cs.Difficulty, cs.Stability, r))
	} else {
		cs.Stability = clampS(p.recallStability(cs.Difficulty, cs.Stability, r, rating))
	}
}

// initDifficulty computes D0(G) = w[4] - (G-3)*w[5], unclamped.
func (p *Params) initDifficulty(rating domain.Rating) float64 {
	return p.Weights[4] - (float64(rating)-3)*p.Weights[5]
}

// recallStability grows stability after a successful review. Growth shrinks
// with higher stability and difficulty and rises with retrievability loss.
func (p *Params) recallStability(d, s, r float64, rating domain.Rating) float64 {
	w := &p.Weights
	hardPenalty := 1.0
	if rating == domain.Hard {
		hardPenalty = w[15]
	}
	easyBonus := 1.0
	if rating == domain.Easy {
		easyBonus = w[16]
	}
	return s * (1 + math.Exp(w[8])*
		(11-d)*
		math.Pow(s, -w[9])*
		(math.Exp((1-r)*w[10])-1)*
		hardPenalty*easyBonus)
}

// forgetStability shrinks stability after a lapse.
func (p *Params) forgetStability(d, s, r float64) float64 {
	w := &p.Weights
	return w[11] *
		math.Pow(d, -w[12]) *
		(math.Pow(s+1, w[13]) - 1) *
		math.Exp((1-r)*w[14])
}

// nextInterval converts stability into a review interval in whole days,
// clamped to [1, MaximumInterval]. The factor argument applies the Hard
// damping or Easy bonus; pass 1 for Good.
func (p *Params) nextInterval(stability, factor float64) int {
	ivl := stability * math.Log(p.DesiredRetention) / math.Log(0.9) * factor
	days := int(math.Round(ivl))
	if days < 1 {
		days = 1
	}
	if days > p.MaximumInterval {
		days = p.MaximumInterval
	}
	return days
}

// transition runs the discrete lifecycle machine and sets Due, State,
// LearningSteps, ScheduledDays and Lapses.
func (p *Params) transition(cs *domain.CardState, rating domain.Rating, now time.Time) {
	switch cs.State {
	case domain.StateNew:
		cs.State = domain.StateLearning
		cs.LearningSteps = 0
		p.stepThrough(cs, rating, now, p.LearningSteps)
	case domain.StateLearning:
		p.stepThrough(cs, rating, now, p.LearningSteps)
	case domain.StateRelearning:
		p.stepThrough(cs, rating, now, p.RelearningSteps)
	case domain.StateReview:
		p.reviewTransition(cs, rating, now)
	}
}

// stepThrough handles the Learning and Relearning sub-day step sequence.
func (p *Params) stepThrough(cs *domain.CardState, rating domain.Rating, now time.Time, steps []time.Duration) {
	if len(steps) == 0 {
		// No steps configured: graduate immediately.
		p.graduate(cs, rating, now)
		return
	}

	switch rating {
	case domain.Again:
		cs.LearningSteps = 0
		p.scheduleStep(cs, now, steps[0])
	case domain.Hard:
		step := cs.LearningSteps
		if step >= len(steps) {
			step = len(steps) - 1
		}
		p.scheduleStep(cs, now, steps[step])
	case domain.Good:
		cs.LearningSteps++
		if cs.LearningSteps >= len(steps) {
			p.graduate(cs, domain.Good, now)
			return
		}
		p.scheduleStep(cs, now, steps[cs.LearningSteps])
	case domain.Easy:
		p.graduate(cs, domain.Easy, now)
	}
}

// scheduleStep keeps the card in its current (re)learning state and sets a
// sub-day due time.
func (p *Params) scheduleStep(cs *domain.CardState, now time.Time, step time.Duration) {
	cs.ScheduledDays = 0
	cs.Due = now.Add(step)
}

// graduate promotes a card out of Learning/Relearning into Review.
func (p *Params) graduate(cs *domain.CardState, rating domain.Rating, now time.Time) {
	cs.State = domain.StateReview
	cs.LearningSteps = 0
	factor := 1.0
	if rating == domain.Easy {
		factor = p.EasyBonus
	}
	cs.ScheduledDays = p.nextInterval(cs.Stability, factor)
	cs.Due = now.AddDate(0, 0, cs.ScheduledDays)
}

// reviewTransition handles ratings given to a card already in Review.
func (p *Params) reviewTransition(cs *domain.CardState, rating domain.Rating, now time.Time) {
	if rating == domain.Again {
		cs.Lapses++
		if len(p.RelearningSteps) > 0 {
			cs.State = domain.StateRelearning
			cs.LearningSteps = 0
			p.scheduleStep(cs, now, p.RelearningSteps[0])
			return
		}
		// No relearning steps: stay in Review on the shrunken stability.
		cs.ScheduledDays = p.nextInterval(cs.Stability, 1)
		cs.Due = now.AddDate(0, 0, cs.ScheduledDays)
		return
	}

	factor := 1.0
	switch rating {
	case domain.Hard:
		factor = p.HardInterval
	case domain.Easy:
		factor = p.EasyBonus
	}
	cs.ScheduledDays = p.nextInterval(cs.Stability, factor)
	cs.Due = now.AddDate(0, 0, cs.ScheduledDays)
}

// clampS floors stability just above zero.
func clampS(s float64) float64 {
	return math.Max(s, minStability)
}

// clampD clamps difficulty to [1, 10].
func clampD(d float64) float64 {
	return math.Min(math.Max(d, minDifficulty), maxDifficulty)
}
