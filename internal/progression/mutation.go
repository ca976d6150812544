package progression

import (
	"errors"
	"fmt"
	"strings"
)

// Action is the requested change to a progress field.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionPass   Action = "pass"
	ActionFail   Action = "fail"
)

var (
	// ErrInvalidAction indicates an action that does not apply to the field.
	ErrInvalidAction = errors.New("progression: invalid action")
	// ErrNotEditable indicates the field cannot be changed through progress edits.
	ErrNotEditable = errors.New("progression: field not editable")
)

// ParseAction normalizes a command option value.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case ActionAdd, ActionRemove, ActionPass, ActionFail:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
}

// Caps maps counter fields to their upper bound for one mutation context.
type Caps map[Field]int

// ManualCaps bounds staff progress edits regardless of rank.
var ManualCaps = Caps{
	FieldDefenseTrainings:   10,
	FieldRaidTrainings:      10,
	FieldWarfareEvents:      20,
	FieldTrainingGroupProto: 2,
	FieldTrainingGameSense:  2,
	FieldTrainingTerrain:    2,
}

// HeliosLeadershipCaps bounds the leadership edits available to Helios Pathway members.
var HeliosLeadershipCaps = Caps{
	FieldDefenseTrainings: 4,
	FieldRaidTrainings:    4,
	FieldWarfareEvents:    6,
}

const (
	trooperTrainingSubmissionCap       = 2
	heliosTrooperTrainingSubmissionCap = 1
)

// SubmissionCaps bounds the credit applied by event submission. Counters the
// rank requires are capped at the rank's own threshold; the rest fall back to
// the manual ceiling. Trooper sub-tracks cap at 2, or 1 on the Helios Pathway.
func SubmissionCaps(rank Rank) (Caps, error) {
	policy, err := PolicyFor(rank)
	if err != nil {
		return nil, err
	}
	caps := Caps{}
	for field, ceiling := range ManualCaps {
		if field.IsTrooperTraining() {
			caps[field] = trooperTrainingSubmissionCap
			if rank == RankHeliosPathway {
				caps[field] = heliosTrooperTrainingSubmissionCap
			}
			continue
		}
		caps[field] = ceiling
		if threshold, ok := policy.Threshold(field); ok {
			caps[field] = threshold
		}
	}
	return caps, nil
}

// Change describes a single applied mutation.
type Change struct {
	Field  Field `json:"field"`
	Before int   `json:"before"`
	After  int   `json:"after"`
}

// Changed reports whether the mutation altered the value.
func (c Change) Changed() bool {
	return c.Before != c.After
}

// String renders the change as "Label (before --> after)".
func (c Change) String() string {
	if c.Field.IsCounter() {
		return fmt.Sprintf("%s (%d --> %d)", c.Field.Label(), c.Before, c.After)
	}
	yes, no := "Completed", "Not Completed"
	if c.Field == FieldConscriptAssessment {
		yes, no = "Yes", "No"
	}
	render := func(value int) string {
		if value != 0 {
			return yes
		}
		return no
	}
	return fmt.Sprintf("%s (%s --> %s)", c.Field.Label(), render(c.Before), render(c.After))
}

// Mutate applies an action to a field. Counters move by one and are clamped
// to [0, caps[field]]; boolean fields are set or cleared.
func Mutate(progress *Progress, field Field, action Action, caps Caps) (Change, error) {
	before, err := progress.Value(field)
	if err != nil {
		return Change{}, err
	}
	after, err := nextValue(field, action, before, caps)
	if err != nil {
		return Change{}, err
	}
	if err := progress.set(field, after); err != nil {
		return Change{}, err
	}
	return Change{Field: field, Before: before, After: after}, nil
}

func nextValue(field Field, action Action, current int, caps Caps) (int, error) {
	switch {
	case field == FieldGroupPrimaried:
		return 0, fmt.Errorf("%w: %s", ErrNotEditable, field)
	case field == FieldConscriptAssessment:
		switch action {
		case ActionPass:
			return 1, nil
		case ActionFail:
			return 0, nil
		}
	case !field.IsCounter():
		switch action {
		case ActionAdd:
			return 1, nil
		case ActionRemove:
			return 0, nil
		}
	default:
		ceiling, ok := caps[field]
		if !ok {
			return 0, fmt.Errorf("%w: %s has no cap in this context", ErrNotEditable, field)
		}
		switch action {
		case ActionAdd:
			// values already above a tighter context cap are left alone
			if current >= ceiling {
				return current, nil
			}
			return current + 1, nil
		case ActionRemove:
			return max(current-1, 0), nil
		}
	}
	return 0, fmt.Errorf("%w: %s for %s", ErrInvalidAction, action, field)
}

// Reset zeroes every counter and boolean, including the pathway block.
func (p *Progress) Reset() {
	*p = Progress{}
}

// Reset clears every notification flag.
func (f *NotificationFlags) Reset() {
	*f = NotificationFlags{}
}
