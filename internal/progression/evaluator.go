package progression

import "fmt"

// Item is the evaluated state of a single requirement.
type Item struct {
	Name     string `json:"name"`
	Field    Field  `json:"field"`
	Current  int    `json:"current"`
	Required int    `json:"required"`
	Met      bool   `json:"met"`
	Boolean  bool   `json:"boolean"`
}

// Evaluation is the outcome of checking progress against a rank policy.
type Evaluation struct {
	Rank       Rank   `json:"rank"`
	Items      []Item `json:"items"`
	OverallMet bool   `json:"overall_met"`
}

// Evaluate checks progress against the rank's requirement table.
// OverallMet is the conjunction of every item.
func Evaluate(rank Rank, progress Progress) (Evaluation, error) {
	policy, err := PolicyFor(rank)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %d", err, int(rank))
	}

	evaluation := Evaluation{
		Rank:       rank,
		Items:      make([]Item, 0, len(policy.Requirements)),
		OverallMet: true,
	}
	for _, requirement := range policy.Requirements {
		current, err := progress.Value(requirement.Field)
		if err != nil {
			return Evaluation{}, err
		}
		met := current >= requirement.Required
		evaluation.Items = append(evaluation.Items, Item{
			Name:     requirement.Name,
			Field:    requirement.Field,
			Current:  current,
			Required: requirement.Required,
			Met:      met,
			Boolean:  !requirement.Field.IsCounter(),
		})
		evaluation.OverallMet = evaluation.OverallMet && met
	}
	return evaluation, nil
}

// Unmet returns the items that are not yet satisfied.
func (e Evaluation) Unmet() []Item {
	var unmet []Item
	for _, item := range e.Items {
		if !item.Met {
			unmet = append(unmet, item)
		}
	}
	return unmet
}
