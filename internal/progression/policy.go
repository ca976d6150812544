package progression

// CompletionTarget selects where a completion announcement is posted.
type CompletionTarget string

const (
	CompletionConscript     CompletionTarget = "conscript"
	CompletionTrooper       CompletionTarget = "trooper"
	CompletionSeniorTrooper CompletionTarget = "senior_trooper"
)

// Requirement is one row of a rank policy.
type Requirement struct {
	Name     string
	Field    Field
	Required int
}

// Policy describes everything rank-specific: requirements, label prefix,
// notification flag and announcement target.
type Policy struct {
	Rank         Rank
	Name         string
	Prefix       string
	Flag         NotificationFlag
	Completion   CompletionTarget
	Requirements []Requirement
}

// Threshold returns the required value for a field, if the rank requires it.
func (p Policy) Threshold(field Field) (int, bool) {
	for _, requirement := range p.Requirements {
		if requirement.Field == field {
			return requirement.Required, true
		}
	}
	return 0, false
}

var groupPrimaried = Requirement{Name: "Group Primaried", Field: FieldGroupPrimaried, Required: 1}

var policies = map[Rank]Policy{
	RankConscript: {
		Rank:       RankConscript,
		Name:       "Conscript",
		Prefix:     "[C]",
		Flag:       FlagConscript,
		Completion: CompletionConscript,
		Requirements: []Requirement{
			groupPrimaried,
			{Name: "Defense Trainings", Field: FieldDefenseTrainings, Required: 6},
			{Name: "Raid Trainings", Field: FieldRaidTrainings, Required: 6},
			{Name: "Conscript Assessment Passed", Field: FieldConscriptAssessment, Required: 1},
		},
	},
	RankTrooper: {
		Rank:       RankTrooper,
		Name:       "Trooper",
		Prefix:     "[T]",
		Flag:       FlagTrooper,
		Completion: CompletionTrooper,
		Requirements: []Requirement{
			groupPrimaried,
			{Name: "Defense Trainings", Field: FieldDefenseTrainings, Required: 8},
			{Name: "Raid Trainings", Field: FieldRaidTrainings, Required: 8},
			{Name: "Warfare Events", Field: FieldWarfareEvents, Required: 12},
			{Name: "Trooper Training Game Sense", Field: FieldTrainingGameSense, Required: 2},
			{Name: "Trooper Training Group Protocol", Field: FieldTrainingGroupProto, Required: 1},
			{Name: "Trooper Training Terrain", Field: FieldTrainingTerrain, Required: 2},
			{Name: "Zombie Aim Challenge (7 minutes)", Field: FieldZombieAimChallenge, Required: 1},
		},
	},
	RankSeniorTrooper: {
		Rank:       RankSeniorTrooper,
		Name:       "Senior Trooper",
		Prefix:     "[ST]",
		Flag:       FlagSeniorTrooper,
		Completion: CompletionSeniorTrooper,
		Requirements: []Requirement{
			groupPrimaried,
			{Name: "Defense Trainings", Field: FieldDefenseTrainings, Required: 10},
			{Name: "Raid Trainings", Field: FieldRaidTrainings, Required: 10},
			{Name: "Warfare Events", Field: FieldWarfareEvents, Required: 15},
			{Name: "Trooper Training Game Sense", Field: FieldTrainingGameSense, Required: 2},
			{Name: "Trooper Training Group Protocol", Field: FieldTrainingGroupProto, Required: 1},
			{Name: "Trooper Training Terrain", Field: FieldTrainingTerrain, Required: 2},
			{Name: "Zombie Aim Challenge (10 minutes)", Field: FieldZombieAimChallenge, Required: 1},
			{Name: "Complete Assignments", Field: FieldCompleteAssignments, Required: 1},
		},
	},
	RankHeliosPathway: {
		Rank:       RankHeliosPathway,
		Name:       "Senior Trooper Helios Pathway",
		Prefix:     "[ST-H]",
		Flag:       FlagHeliosPathway,
		Completion: CompletionSeniorTrooper,
		Requirements: []Requirement{
			groupPrimaried,
			{Name: "Lead Defense Trainings", Field: FieldDefenseTrainings, Required: 4},
			{Name: "Lead Raid Trainings", Field: FieldRaidTrainings, Required: 4},
			{Name: "Co-Lead Warfare Events", Field: FieldWarfareEvents, Required: 6},
			{Name: "Trooper Training Game Sense", Field: FieldTrainingGameSense, Required: 1},
			{Name: "Trooper Training Group Protocol", Field: FieldTrainingGroupProto, Required: 1},
			{Name: "Trooper Training Terrain", Field: FieldTrainingTerrain, Required: 1},
			{Name: "Zombie Aim Challenge (8 minutes)", Field: FieldZombieAimChallenge, Required: 1},
		},
	},
	RankCommissariatPathway: {
		Rank:       RankCommissariatPathway,
		Name:       "Senior Trooper Commissariat Pathway",
		Prefix:     "[ST-C]",
		Flag:       FlagCommissariatPathway,
		Completion: CompletionSeniorTrooper,
		Requirements: []Requirement{
			groupPrimaried,
			{Name: "Defense Trainings", Field: FieldDefenseTrainings, Required: 4},
			{Name: "Raid Trainings", Field: FieldRaidTrainings, Required: 4},
			{Name: "Warfare Events", Field: FieldWarfareEvents, Required: 10},
			{Name: "Trooper Training Game Sense", Field: FieldTrainingGameSense, Required: 1},
			{Name: "Trooper Training Group Protocol", Field: FieldTrainingGroupProto, Required: 1},
			{Name: "Trooper Training Terrain", Field: FieldTrainingTerrain, Required: 1},
			{Name: "Zombie Aim Challenge (8 minutes)", Field: FieldZombieAimChallenge, Required: 1},
			{Name: "Complete Assignments", Field: FieldCompleteAssignments, Required: 1},
		},
	},
}

// PolicyFor returns the policy of a tracked rank.
func PolicyFor(rank Rank) (Policy, error) {
	policy, ok := policies[rank]
	if !ok {
		return Policy{}, ErrUnknownRank
	}
	return policy, nil
}

// Prefixes lists every recognized label prefix.
func Prefixes() []string {
	prefixes := make([]string, 0, len(allRanks))
	for _, rank := range allRanks {
		prefixes = append(prefixes, policies[rank].Prefix)
	}
	return prefixes
}
