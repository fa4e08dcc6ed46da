package service

import (
	"math/rand"

	"github.com/noah-isme/course-signup-api/internal/models"
	"github.com/noah-isme/course-signup-api/pkg/weighted"
)

// PopulateCandidate pairs a waiting attendance with its selection weight.
type PopulateCandidate struct {
	Attendance *models.Attendance
	Weight     float64
}

// PopulatePolicy parameterises a populate run.
//
// Filter decides which waiting attendances take part, Prepare may assign
// weights before the loop starts and Select picks the next candidate to
// process from the remaining ones.
type PopulatePolicy interface {
	Name() models.PopulatePolicyName
	Filter(attendance *models.Attendance) bool
	Prepare(candidates []PopulateCandidate)
	Select(candidates []PopulateCandidate) (int, error)
}

// RndPolicy is the lottery for signups made during the random window.
// Applicants holding fewer attendances get proportionally better odds.
type RndPolicy struct {
	rng *rand.Rand
}

// NewRndPolicy builds a lottery policy drawing from rng. The policy is not
// safe for concurrent use.
func NewRndPolicy(rng *rand.Rand) *RndPolicy {
	return &RndPolicy{rng: rng}
}

func (p *RndPolicy) Name() models.PopulatePolicyName { return models.PopulatePolicyRnd }

// Filter admits attendances registered within [signup_begin, signup_rnd_window_end).
func (p *RndPolicy) Filter(attendance *models.Attendance) bool {
	return attendance.Course.Language.IsOpenForSignupRnd(attendance.Registered)
}

// Prepare sets weight = 1 / max(1, attendances held by the applicant).
func (p *RndPolicy) Prepare(candidates []PopulateCandidate) {
	for i := range candidates {
		held := len(candidates[i].Attendance.Applicant.Attendances)
		if held < 1 {
			held = 1
		}
		candidates[i].Weight = 1 / float64(held)
	}
}

func (p *RndPolicy) Select(candidates []PopulateCandidate) (int, error) {
	weights := make([]float64, len(candidates))
	for i, c := range candidates {
		weights[i] = c.Weight
	}
	return weighted.Select(p.rng, weights)
}

// FcfsPolicy processes candidates strictly in registration order. It relies
// on the store returning waiting attendances sorted by registration time.
type FcfsPolicy struct{}

func (FcfsPolicy) Name() models.PopulatePolicyName { return models.PopulatePolicyFcfs }

func (FcfsPolicy) Filter(*models.Attendance) bool { return true }

func (FcfsPolicy) Prepare([]PopulateCandidate) {}

func (FcfsPolicy) Select([]PopulateCandidate) (int, error) { return 0, nil }
