package discord

import (
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/bwmarrin/discordgo"
)

const (
	commandVerify             = "verify"
	commandCheckVerification  = "check-verification"
	commandProgress           = "progress"
	commandUpdate             = "update"
	commandEditProgress       = "edit-progress"
	commandCheckProgress      = "check-progress"
	commandPromote            = "promote"
	commandAssignHelios       = "assign-helios-pathway"
	commandAssignCommissariat = "assign-commissariat-pathway"
	commandEditHelios         = "edit-helios-progress"
	commandEditAssignments    = "edit-commissariat-assignments"
	commandLogEvent           = "log-event"
)

const (
	optionUsername  = "username"
	optionAction    = "action"
	optionName      = "name"
	optionRank      = "rank"
	optionHostName  = "host-name"
	optionEventType = "event-type"
	optionMapName   = "map-name"
)

// heliosSubcommands maps /edit-helios-progress subcommands to fields.
var heliosSubcommands = map[string]progression.Field{
	"lead-defensive-training": progression.FieldDefenseTrainings,
	"lead-raid-training":      progression.FieldRaidTrainings,
	"co-lead-warfare-event":   progression.FieldWarfareEvents,
}

var editProgressSubcommands = []struct {
	field       progression.Field
	description string
}{
	{progression.FieldDefenseTrainings, "Add or remove defense trainings."},
	{progression.FieldRaidTrainings, "Add or remove raid trainings."},
	{progression.FieldWarfareEvents, "Add or remove warfare events."},
	{progression.FieldTrainingGroupProto, "Add or remove Group Protocol Trooper Training."},
	{progression.FieldTrainingGameSense, "Add or remove Game Sense Trooper Training."},
	{progression.FieldTrainingTerrain, "Add or remove Terrain Trooper Training."},
	{progression.FieldConscriptAssessment, "Mark Conscript Assessment as passed or failed."},
	{progression.FieldZombieAimChallenge, "Mark Zombie Aim Challenge as completed or not."},
}

// publicCommands are usable by every member.
var publicCommands = map[string]bool{
	commandVerify:            true,
	commandCheckVerification: true,
	commandProgress:          true,
	commandUpdate:            true,
}

var adminPermission int64 = discordgo.PermissionAdministrator

func usernameOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        optionUsername,
		Description: description,
		Required:    true,
	}
}

func actionOption(field progression.Field) *discordgo.ApplicationCommandOption {
	option := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        optionAction,
		Description: "Add or remove",
		Required:    true,
		Choices: []*discordgo.ApplicationCommandOptionChoice{
			{Name: "Add", Value: string(progression.ActionAdd)},
			{Name: "Remove", Value: string(progression.ActionRemove)},
		},
	}
	if field == progression.FieldConscriptAssessment {
		option.Description = "Pass or Fail"
		option.Choices = []*discordgo.ApplicationCommandOptionChoice{
			{Name: "Pass", Value: string(progression.ActionPass)},
			{Name: "Fail", Value: string(progression.ActionFail)},
		}
	}
	return option
}

func subcommand(name, description string, field progression.Field) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     []*discordgo.ApplicationCommandOption{usernameOption("Roblox username"), actionOption(field)},
	}
}

// Commands returns the guild slash command set.
func Commands() []*discordgo.ApplicationCommand {
	editProgress := make([]*discordgo.ApplicationCommandOption, 0, len(editProgressSubcommands))
	for _, entry := range editProgressSubcommands {
		editProgress = append(editProgress, subcommand(string(entry.field), entry.description, entry.field))
	}

	eventChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(progression.EventTypes()))
	for _, eventType := range progression.EventTypes() {
		eventChoices = append(eventChoices, &discordgo.ApplicationCommandOptionChoice{Name: string(eventType), Value: string(eventType)})
	}

	rankChoices := []*discordgo.ApplicationCommandOptionChoice{}
	for _, rank := range []progression.Rank{progression.RankConscript, progression.RankTrooper, progression.RankSeniorTrooper} {
		rankChoices = append(rankChoices, &discordgo.ApplicationCommandOptionChoice{Name: rank.String(), Value: rank.String()})
	}

	commands := []*discordgo.ApplicationCommand{
		{
			Name:        commandVerify,
			Description: "Starts the verification process for your Roblox account.",
			Options:     []*discordgo.ApplicationCommandOption{usernameOption("Your Roblox username")},
		},
		{Name: commandCheckVerification, Description: "Checks if the verification code is present in your Roblox profile."},
		{Name: commandProgress, Description: "Displays your current progress in the group."},
		{Name: commandUpdate, Description: "Updates your Discord roles based on your current Roblox rank."},
		{Name: commandEditProgress, Description: "Modify user progress.", Options: editProgress},
		{
			Name:        commandCheckProgress,
			Description: "Check the progress of a user in the group.",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionName,
				Description: "The Roblox username to check progress for.",
				Required:    true,
			}},
		},
		{
			Name:        commandPromote,
			Description: "Promote a user to a selected rank in the Roblox group.",
			Options: []*discordgo.ApplicationCommandOption{
				usernameOption("Roblox username"),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionRank,
					Description: "Select the rank to promote the user to",
					Required:    true,
					Choices:     rankChoices,
				},
			},
		},
		{
			Name:        commandAssignHelios,
			Description: "Assigns the Senior Trooper Helios Pathway to a user.",
			Options:     []*discordgo.ApplicationCommandOption{usernameOption("Roblox username")},
		},
		{
			Name:        commandAssignCommissariat,
			Description: "Assigns the Senior Trooper Commissariat Pathway to a user.",
			Options:     []*discordgo.ApplicationCommandOption{usernameOption("Roblox username")},
		},
		{
			Name:        commandEditHelios,
			Description: "Modify Senior Trooper Helios Pathway progress",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("lead-defensive-training", "Add or remove lead defensive training.", progression.FieldDefenseTrainings),
				subcommand("lead-raid-training", "Add or remove lead raid training.", progression.FieldRaidTrainings),
				subcommand("co-lead-warfare-event", "Add or remove co-lead warfare event.", progression.FieldWarfareEvents),
			},
		},
		{
			Name:        commandEditAssignments,
			Description: "Add or remove completed assignments for a user",
			Options: []*discordgo.ApplicationCommandOption{
				usernameOption("Roblox username"),
				actionOption(progression.FieldCompleteAssignments),
			},
		},
		{
			Name:        commandLogEvent,
			Description: "Log an event for the group",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: optionHostName, Description: "The name of the event host", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: optionEventType, Description: "The type of event", Required: true, Choices: eventChoices},
				{Type: discordgo.ApplicationCommandOptionString, Name: optionMapName, Description: "The name of the map", Required: true},
			},
		},
	}
	for _, command := range commands {
		if !publicCommands[command.Name] {
			command.DefaultMemberPermissions = &adminPermission
		}
	}
	return commands
}
