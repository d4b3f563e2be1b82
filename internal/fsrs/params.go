package fsrs

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultVersion names the parameter set used when none is configured.
const DefaultVersion = "fsrs-5"

// Steps are the short, sub-day intervals used while a card is being learned.
// Good is only consulted for a card's first exposure; inside Learning and
// Relearning a Good rating graduates the card instead.
type Steps struct {
	Again time.Duration `json:"again" validate:"gt=0"`
	Hard  time.Duration `json:"hard" validate:"gt=0"`
	Good  time.Duration `json:"good" validate:"gte=0"`
}

func (s Steps) interval(r Rating) time.Duration {
	switch r {
	case Again:
		return s.Again
	case Hard:
		return s.Hard
	default:
		return s.Good
	}
}

// Params is a versioned FSRS parameter set. Sets are looked up by version so
// that changing scheduling behaviour is an explicit configuration change.
type Params struct {
	Version          string      `json:"version" validate:"required"`
	W                [19]float64 `json:"w"`
	DesiredRetention float64     `json:"desired_retention" validate:"gt=0,lt=1"`
	MaximumInterval  int         `json:"maximum_interval" validate:"gte=1,lte=36500"`
	MinDifficulty    float64     `json:"min_difficulty" validate:"gte=1"`
	MaxDifficulty    float64     `json:"max_difficulty" validate:"gtfield=MinDifficulty"`
	NewSteps         Steps       `json:"new_steps"`
	LearningSteps    Steps       `json:"learning_steps"`
	RelearningSteps  Steps       `json:"relearning_steps"`
}

// Weight bounds, from the FSRS optimizer's clipping ranges.
var (
	weightLower = [19]float64{
		0.001, 0.001, 0.001, 0.001,
		1.0, 0.001, 0.001, 0.001,
		0.0, 0.0, 0.001, 0.001,
		0.001, 0.001, 0.0, 0.0,
		1.0, 0.0, 0.0,
	}
	weightUpper = [19]float64{
		100.0, 100.0, 100.0, 100.0,
		10.0, 4.0, 4.0, 0.75,
		4.5, 0.8, 3.5, 5.0,
		0.25, 0.9, 4.0, 1.0,
		6.0, 2.0, 2.0,
	}
)

var shortSteps = struct{ first, learning, relearning Steps }{
	first:      Steps{Again: time.Minute, Hard: 5 * time.Minute, Good: 10 * time.Minute},
	learning:   Steps{Again: 5 * time.Minute, Hard: 10 * time.Minute},
	relearning: Steps{Again: 5 * time.Minute, Hard: 10 * time.Minute},
}

var parameterSets = map[string]Params{
	"fsrs-5": {
		Version: "fsrs-5",
		W: [19]float64{
			0.40255, 1.18385, 3.173, 15.69105,
			7.1949, 0.5345, 1.4604, 0.0046,
			1.54575, 0.1192, 1.01925, 1.9395,
			0.11, 0.29605, 2.2698, 0.2315,
			2.9898, 0.51655, 0.6621,
		},
		DesiredRetention: 0.9,
		MaximumInterval:  36500,
		MinDifficulty:    1,
		MaxDifficulty:    10,
		NewSteps:         shortSteps.first,
		LearningSteps:    shortSteps.learning,
		RelearningSteps:  shortSteps.relearning,
	},
	"fsrs-4.5": {
		Version: "fsrs-4.5",
		W: [19]float64{
			0.4072, 1.1829, 3.1262, 15.4722,
			7.2102, 0.5316, 1.0651, 0.0234,
			1.616, 0.1544, 1.0824, 1.9813,
			0.0953, 0.2975, 2.2042, 0.2407,
			2.9466, 0.5034, 0.6567,
		},
		DesiredRetention: 0.9,
		MaximumInterval:  36500,
		MinDifficulty:    1,
		MaxDifficulty:    10,
		NewSteps:         shortSteps.first,
		LearningSteps:    shortSteps.learning,
		RelearningSteps:  shortSteps.relearning,
	},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultParams returns a copy of the default parameter set.
func DefaultParams() Params {
	return parameterSets[DefaultVersion]
}

// LookupParams returns a copy of the registered parameter set with the given version.
func LookupParams(version string) (Params, error) {
	p, ok := parameterSets[version]
	if !ok {
		return Params{}, fmt.Errorf("%w: unknown parameter set %q (known: %v)", ErrInvalidParams, version, Versions())
	}
	return p, nil
}

// Versions lists the registered parameter set versions.
func Versions() []string {
	out := make([]string, 0, len(parameterSets))
	for v := range parameterSets {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Validate checks the parameter set, including every weight against its bounds.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	for i, w := range p.W {
		if w < weightLower[i] || w > weightUpper[i] {
			return fmt.Errorf("%w: w[%d] = %f, bounds [%f, %f]",
				ErrInvalidParams, i, w, weightLower[i], weightUpper[i])
		}
	}
	if p.NewSteps.Good <= 0 {
		return fmt.Errorf("%w: new_steps.good must be positive", ErrInvalidParams)
	}
	return nil
}
