package judge

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Criterion is one scored dimension of a rubric.
type Criterion struct {
	ID          string  `yaml:"id" json:"id" validate:"required"`
	Description string  `yaml:"description" json:"description"`
	Weight      float64 `yaml:"weight" json:"weight" validate:"gt=0"`
}

// Rubric is the YAML file a scenario's judge block points at.
type Rubric struct {
	Criteria     []Criterion `yaml:"criteria" json:"criteria" validate:"required,min=1,dive"`
	Instructions string      `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

var validate = validator.New()

// LoadRubric reads and validates a rubric file.
func LoadRubric(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rubric %s: %w", path, err)
	}
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing rubric %s: %w", path, err)
	}
	if err := validate.Struct(&r); err != nil {
		return nil, fmt.Errorf("invalid rubric %s: %w", path, err)
	}
	seen := map[string]bool{}
	for _, c := range r.Criteria {
		if seen[c.ID] {
			return nil, fmt.Errorf("invalid rubric %s: duplicate criterion %q", path, c.ID)
		}
		seen[c.ID] = true
	}
	return &r, nil
}

// WeightedScore calculates a weighted average from per-criterion scores.
// Criteria the judge did not score are left out of the denominator.
func (r *Rubric) WeightedScore(scores map[string]float64) (float64, bool) {
	if r == nil || len(r.Criteria) == 0 {
		return 0, false
	}
	var totalWeight, weightedSum float64
	for _, c := range r.Criteria {
		score, ok := scores[c.ID]
		if !ok {
			continue
		}
		weightedSum += clamp01(score) * c.Weight
		totalWeight += c.Weight
	}
	if totalWeight == 0 {
		return 0, false
	}
	return weightedSum / totalWeight, true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
