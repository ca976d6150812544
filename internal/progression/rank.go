package progression

import (
	"errors"
	"fmt"
	"strings"
)

// Rank enumerates the group ranks tracked by the progression store.
type Rank int

const (
	// RankConscript is the entry rank.
	RankConscript Rank = 2
	// RankTrooper follows Conscript.
	RankTrooper Rank = 3
	// RankSeniorTrooper is the highest tracked group rank.
	RankSeniorTrooper Rank = 4
	// RankHeliosPathway is the internal Senior Trooper leadership pathway.
	RankHeliosPathway Rank = 5
	// RankCommissariatPathway is the internal Senior Trooper commissariat pathway.
	RankCommissariatPathway Rank = 6
)

// ErrUnknownRank indicates a rank outside the tracked enumeration.
var ErrUnknownRank = errors.New("progression: unknown rank")

var allRanks = []Rank{
	RankConscript,
	RankTrooper,
	RankSeniorTrooper,
	RankHeliosPathway,
	RankCommissariatPathway,
}

// Ranks returns every tracked rank in ascending order.
func Ranks() []Rank {
	return append([]Rank(nil), allRanks...)
}

// Valid reports whether the rank is one of the tracked values.
func (r Rank) Valid() bool {
	return r >= RankConscript && r <= RankCommissariatPathway
}

// IsPathway reports whether the rank is one of the internal Senior Trooper pathways.
func (r Rank) IsPathway() bool {
	return r == RankHeliosPathway || r == RankCommissariatPathway
}

// GroupRank returns the rank number written to the group-management service.
// Pathways are Senior Troopers externally.
func (r Rank) GroupRank() int {
	if r.IsPathway() {
		return int(RankSeniorTrooper)
	}
	return int(r)
}

// String returns the full display name.
func (r Rank) String() string {
	policy, ok := policies[r]
	if !ok {
		return fmt.Sprintf("Rank(%d)", int(r))
	}
	return policy.Name
}

// ParseRank matches a display name (case-insensitive) or a numeric rank.
func ParseRank(raw string) (Rank, error) {
	trimmed := strings.TrimSpace(raw)
	for _, rank := range allRanks {
		if strings.EqualFold(policies[rank].Name, trimmed) {
			return rank, nil
		}
	}
	var numeric int
	if _, err := fmt.Sscanf(trimmed, "%d", &numeric); err == nil && fmt.Sprint(numeric) == trimmed {
		if rank := Rank(numeric); rank.Valid() {
			return rank, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRank, raw)
}

// RankFromGroup maps a group rank number to a tracked rank.
func RankFromGroup(groupRank int) (Rank, error) {
	rank := Rank(groupRank)
	if !rank.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRank, groupRank)
	}
	return rank, nil
}
