package progression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutateAddRemoveRoundTrip(t *testing.T) {
	for field := range ManualCaps {
		progress := Progress{}
		require.NoError(t, progress.set(field, 1))

		added, err := Mutate(&progress, field, ActionAdd, ManualCaps)
		require.NoError(t, err)
		require.Equal(t, 2, added.After, field)

		removed, err := Mutate(&progress, field, ActionRemove, ManualCaps)
		require.NoError(t, err)
		require.Equal(t, 1, removed.After, field)
	}
}

func TestMutateBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		field    Field
		start    int
		action   Action
		caps     Caps
		expected int
	}{
		{name: "add at manual defense cap", field: FieldDefenseTrainings, start: 10, action: ActionAdd, caps: ManualCaps, expected: 10},
		{name: "add at manual warfare cap", field: FieldWarfareEvents, start: 20, action: ActionAdd, caps: ManualCaps, expected: 20},
		{name: "remove at zero", field: FieldRaidTrainings, start: 0, action: ActionRemove, caps: ManualCaps, expected: 0},
		{name: "add at helios leadership cap", field: FieldWarfareEvents, start: 6, action: ActionAdd, caps: HeliosLeadershipCaps, expected: 6},
		{name: "add above tighter cap keeps value", field: FieldDefenseTrainings, start: 10, action: ActionAdd, caps: Caps{FieldDefenseTrainings: 8}, expected: 10},
		{name: "remove above tighter cap decrements", field: FieldDefenseTrainings, start: 10, action: ActionRemove, caps: Caps{FieldDefenseTrainings: 8}, expected: 9},
		{name: "sub-track capped at two", field: FieldTrainingTerrain, start: 2, action: ActionAdd, caps: ManualCaps, expected: 2},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			progress := Progress{}
			require.NoError(t, progress.set(testCase.field, testCase.start))
			change, err := Mutate(&progress, testCase.field, testCase.action, testCase.caps)
			require.NoError(t, err)
			require.Equal(t, testCase.expected, change.After)
			value, err := progress.Value(testCase.field)
			require.NoError(t, err)
			require.Equal(t, testCase.expected, value)
		})
	}
}

func TestMutateBooleans(t *testing.T) {
	progress := Progress{}

	change, err := Mutate(&progress, FieldConscriptAssessment, ActionPass, ManualCaps)
	require.NoError(t, err)
	require.True(t, progress.ConscriptAssessmentPassed)
	require.Equal(t, "Conscript Assessment Passed (No --> Yes)", change.String())

	_, err = Mutate(&progress, FieldConscriptAssessment, ActionAdd, ManualCaps)
	require.ErrorIs(t, err, ErrInvalidAction)

	change, err = Mutate(&progress, FieldZombieAimChallenge, ActionAdd, ManualCaps)
	require.NoError(t, err)
	require.True(t, progress.ZombieAimChallenge)
	require.Equal(t, "Zombie Aim Challenge (Not Completed --> Completed)", change.String())

	_, err = Mutate(&progress, FieldGroupPrimaried, ActionAdd, ManualCaps)
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestMutateRequiresCapForCounter(t *testing.T) {
	progress := Progress{}
	_, err := Mutate(&progress, FieldTrainingTerrain, ActionAdd, HeliosLeadershipCaps)
	if !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
}

func TestSubmissionCaps(t *testing.T) {
	trooper, err := SubmissionCaps(RankTrooper)
	require.NoError(t, err)
	require.Equal(t, 8, trooper[FieldDefenseTrainings])
	require.Equal(t, 12, trooper[FieldWarfareEvents])
	require.Equal(t, 2, trooper[FieldTrainingGameSense])

	conscript, err := SubmissionCaps(RankConscript)
	require.NoError(t, err)
	require.Equal(t, 6, conscript[FieldDefenseTrainings])
	require.Equal(t, 20, conscript[FieldWarfareEvents])

	helios, err := SubmissionCaps(RankHeliosPathway)
	require.NoError(t, err)
	for _, field := range []Field{FieldTrainingGameSense, FieldTrainingGroupProto, FieldTrainingTerrain} {
		require.Equal(t, 1, helios[field])
	}

	_, err = SubmissionCaps(Rank(1))
	require.ErrorIs(t, err, ErrUnknownRank)
}

func TestCreditSkipsHeliosLeadershipCounters(t *testing.T) {
	progress := Progress{WarfareEvents: 3}
	_, credited, err := Credit(RankHeliosPathway, &progress, EventWarfareEvent)
	require.NoError(t, err)
	require.False(t, credited)
	require.Equal(t, 3, progress.WarfareEvents)

	change, credited, err := Credit(RankHeliosPathway, &progress, EventTrainingTerrain)
	require.NoError(t, err)
	require.True(t, credited)
	require.Equal(t, 1, change.After)

	change, credited, err = Credit(RankHeliosPathway, &progress, EventTrainingTerrain)
	require.NoError(t, err)
	require.True(t, credited)
	require.False(t, change.Changed())
}

func TestCreditClampsAtRankThreshold(t *testing.T) {
	progress := Progress{WarfareEvents: 11}
	change, credited, err := Credit(RankTrooper, &progress, EventWarfareEvent)
	require.NoError(t, err)
	require.True(t, credited)
	require.Equal(t, 12, change.After)

	change, _, err = Credit(RankTrooper, &progress, EventWarfareEvent)
	require.NoError(t, err)
	require.Equal(t, 12, change.After)
}

func TestParseEventType(t *testing.T) {
	eventType, err := ParseEventType("warfare event")
	require.NoError(t, err)
	require.Equal(t, EventWarfareEvent, eventType)
	require.Equal(t, FieldWarfareEvents, eventType.Field())

	_, err = ParseEventType("Picnic")
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestResetClearsEverything(t *testing.T) {
	progress := Progress{
		DefenseTrainings:   3,
		ZombieAimChallenge: true,
		Warnings:           2,
		Pathway:            PathwayProgress{WarfareEvents: 4, CompleteAssignments: true},
	}
	progress.Reset()
	require.Equal(t, Progress{}, progress)

	flags := NotificationFlags{Conscript: true, HeliosPathway: true}
	flags.Reset()
	require.Equal(t, NotificationFlags{}, flags)
}
