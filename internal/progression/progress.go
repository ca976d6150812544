package progression

import (
	"errors"
	"fmt"
	"strings"
)

// Field names a progress entry that can be edited or credited.
type Field string

const (
	FieldDefenseTrainings    Field = "defense-trainings"
	FieldRaidTrainings       Field = "raid-trainings"
	FieldWarfareEvents       Field = "warfare-events"
	FieldTrainingGroupProto  Field = "trooper-trainings-group-protocol"
	FieldTrainingGameSense   Field = "trooper-trainings-game-sense"
	FieldTrainingTerrain     Field = "trooper-trainings-terrain"
	FieldZombieAimChallenge  Field = "zombie-aim-challenge"
	FieldConscriptAssessment Field = "conscript-assessment"
	FieldCompleteAssignments Field = "complete-assignments"
	FieldGroupPrimaried      Field = "group-primaried"
)

// ErrUnknownField indicates a field name outside the progress shape.
var ErrUnknownField = errors.New("progression: unknown field")

var fieldLabels = map[Field]string{
	FieldDefenseTrainings:    "Defense Trainings",
	FieldRaidTrainings:       "Raid Trainings",
	FieldWarfareEvents:       "Warfare Events",
	FieldTrainingGroupProto:  "Trooper Trainings Group Protocol",
	FieldTrainingGameSense:   "Trooper Trainings Game Sense",
	FieldTrainingTerrain:     "Trooper Trainings Terrain",
	FieldZombieAimChallenge:  "Zombie Aim Challenge",
	FieldConscriptAssessment: "Conscript Assessment Passed",
	FieldCompleteAssignments: "Complete Assignments",
	FieldGroupPrimaried:      "Group Primaried",
}

// ParseField resolves a command-style field name.
func ParseField(raw string) (Field, error) {
	field := Field(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := fieldLabels[field]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, raw)
	}
	return field, nil
}

// Label returns the human-readable field name.
func (f Field) Label() string {
	if label, ok := fieldLabels[f]; ok {
		return label
	}
	return string(f)
}

// IsCounter reports whether the field holds an integer counter.
func (f Field) IsCounter() bool {
	switch f {
	case FieldDefenseTrainings, FieldRaidTrainings, FieldWarfareEvents,
		FieldTrainingGroupProto, FieldTrainingGameSense, FieldTrainingTerrain:
		return true
	default:
		return false
	}
}

// IsTrooperTraining reports whether the field is one of the trooper-training sub-tracks.
func (f Field) IsTrooperTraining() bool {
	return f == FieldTrainingGroupProto || f == FieldTrainingGameSense || f == FieldTrainingTerrain
}

// PathwayProgress is the nested commissariat pathway block.
type PathwayProgress struct {
	DefenseTrainings    int  `gorm:"column:defense_trainings;not null;default:0" json:"defense_trainings"`
	RaidTrainings       int  `gorm:"column:raid_trainings;not null;default:0" json:"raid_trainings"`
	WarfareEvents       int  `gorm:"column:warfare_events;not null;default:0" json:"warfare_events"`
	TrainingGameSense   int  `gorm:"column:training_game_sense;not null;default:0" json:"trooper_trainings_game_sense"`
	TrainingGroupProto  int  `gorm:"column:training_group_protocol;not null;default:0" json:"trooper_trainings_group_protocol"`
	TrainingTerrain     int  `gorm:"column:training_terrain;not null;default:0" json:"trooper_trainings_terrain"`
	ZombieAimChallenge  bool `gorm:"column:zombie_aim_challenge;not null;default:false" json:"zombie_aim_challenge"`
	CompleteAssignments bool `gorm:"column:complete_assignments;not null;default:false" json:"complete_assignments"`
}

// Progress holds the per-member counters and booleans evaluated against a rank policy.
type Progress struct {
	DefenseTrainings          int             `gorm:"column:defense_trainings;not null;default:0" json:"defense_trainings"`
	RaidTrainings             int             `gorm:"column:raid_trainings;not null;default:0" json:"raid_trainings"`
	WarfareEvents             int             `gorm:"column:warfare_events;not null;default:0" json:"warfare_events"`
	TrainingGroupProto        int             `gorm:"column:training_group_protocol;not null;default:0" json:"trooper_trainings_group_protocol"`
	TrainingGameSense         int             `gorm:"column:training_game_sense;not null;default:0" json:"trooper_trainings_game_sense"`
	TrainingTerrain           int             `gorm:"column:training_terrain;not null;default:0" json:"trooper_trainings_terrain"`
	ZombieAimChallenge        bool            `gorm:"column:zombie_aim_challenge;not null;default:false" json:"zombie_aim_challenge"`
	GroupPrimaried            bool            `gorm:"column:group_primaried;not null;default:false" json:"group_primaried"`
	ConscriptAssessmentPassed bool            `gorm:"column:conscript_assessment_passed;not null;default:false" json:"conscript_assessment_passed"`
	CompleteAssignments       bool            `gorm:"column:complete_assignments;not null;default:false" json:"complete_assignments"`
	Warnings                  int             `gorm:"column:warnings;not null;default:0" json:"warnings"`
	Pathway                   PathwayProgress `gorm:"embedded;embeddedPrefix:pathway_" json:"commissariat_pathway"`
}

// Value returns the field as an integer; booleans map to 0 or 1.
func (p Progress) Value(field Field) (int, error) {
	switch field {
	case FieldDefenseTrainings:
		return p.DefenseTrainings, nil
	case FieldRaidTrainings:
		return p.RaidTrainings, nil
	case FieldWarfareEvents:
		return p.WarfareEvents, nil
	case FieldTrainingGroupProto:
		return p.TrainingGroupProto, nil
	case FieldTrainingGameSense:
		return p.TrainingGameSense, nil
	case FieldTrainingTerrain:
		return p.TrainingTerrain, nil
	case FieldZombieAimChallenge:
		return boolValue(p.ZombieAimChallenge), nil
	case FieldConscriptAssessment:
		return boolValue(p.ConscriptAssessmentPassed), nil
	case FieldCompleteAssignments:
		return boolValue(p.CompleteAssignments), nil
	case FieldGroupPrimaried:
		return boolValue(p.GroupPrimaried), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}

func (p *Progress) set(field Field, value int) error {
	switch field {
	case FieldDefenseTrainings:
		p.DefenseTrainings = value
	case FieldRaidTrainings:
		p.RaidTrainings = value
	case FieldWarfareEvents:
		p.WarfareEvents = value
	case FieldTrainingGroupProto:
		p.TrainingGroupProto = value
	case FieldTrainingGameSense:
		p.TrainingGameSense = value
	case FieldTrainingTerrain:
		p.TrainingTerrain = value
	case FieldZombieAimChallenge:
		p.ZombieAimChallenge = value != 0
	case FieldConscriptAssessment:
		p.ConscriptAssessmentPassed = value != 0
	case FieldCompleteAssignments:
		p.CompleteAssignments = value != 0
	case FieldGroupPrimaried:
		p.GroupPrimaried = value != 0
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

func boolValue(value bool) int {
	if value {
		return 1
	}
	return 0
}

// NotificationFlags records which completion announcements have been sent.
type NotificationFlags struct {
	Conscript           bool `gorm:"column:conscript;not null;default:false" json:"conscript"`
	Trooper             bool `gorm:"column:trooper;not null;default:false" json:"trooper"`
	SeniorTrooper       bool `gorm:"column:senior_trooper;not null;default:false" json:"senior_trooper"`
	HeliosPathway       bool `gorm:"column:helios_pathway;not null;default:false" json:"helios_pathway"`
	CommissariatPathway bool `gorm:"column:commissariat_pathway;not null;default:false" json:"commissariat_pathway"`
}

// NotificationFlag identifies one idempotency flag.
type NotificationFlag string

const (
	FlagConscript           NotificationFlag = "conscript"
	FlagTrooper             NotificationFlag = "trooper"
	FlagSeniorTrooper       NotificationFlag = "senior_trooper"
	FlagHeliosPathway       NotificationFlag = "helios_pathway"
	FlagCommissariatPathway NotificationFlag = "commissariat_pathway"
)

// Get returns the current value of the flag.
func (f NotificationFlags) Get(flag NotificationFlag) bool {
	switch flag {
	case FlagConscript:
		return f.Conscript
	case FlagTrooper:
		return f.Trooper
	case FlagSeniorTrooper:
		return f.SeniorTrooper
	case FlagHeliosPathway:
		return f.HeliosPathway
	case FlagCommissariatPathway:
		return f.CommissariatPathway
	default:
		return false
	}
}

// Set updates the flag value in place.
func (f *NotificationFlags) Set(flag NotificationFlag, value bool) {
	switch flag {
	case FlagConscript:
		f.Conscript = value
	case FlagTrooper:
		f.Trooper = value
	case FlagSeniorTrooper:
		f.SeniorTrooper = value
	case FlagHeliosPathway:
		f.HeliosPathway = value
	case FlagCommissariatPathway:
		f.CommissariatPathway = value
	}
}
