package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/attendance"
	"github.com/MarcoPoloResearchLab/regiment/internal/notify"
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/reports"
	"github.com/bwmarrin/discordgo"
)

const (
	colorGreen  = 0x00FF00
	colorOrange = 0xFFA500
	colorRed    = 0xFF0000

	checkMet   = "[✓]"
	checkUnmet = "[X]"

	robloxProfileURL = "https://www.roblox.com/users/%d/profile"

	maxEmbedFields = 25
)

func mention(discordID string) string {
	return "<@" + discordID + ">"
}

func roleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

func footer(now time.Time) *discordgo.MessageEmbedFooter {
	return &discordgo.MessageEmbedFooter{Text: now.UTC().Format(time.RFC1123)}
}

func checkmark(met bool) string {
	if met {
		return checkMet
	}
	return checkUnmet
}

// progressEmbed renders an evaluation as a checklist.
func progressEmbed(record records.Record, evaluation progression.Evaluation, avatarURL string, now time.Time) *discordgo.MessageEmbed {
	var body strings.Builder
	body.WriteString("```\n")
	for _, item := range evaluation.Items {
		if item.Boolean {
			fmt.Fprintf(&body, "%s %s\n", checkmark(item.Met), item.Name)
			continue
		}
		fmt.Fprintf(&body, "%s %s %d/%d\n", checkmark(item.Met), item.Name, item.Current, item.Required)
	}
	fmt.Fprintf(&body, "\n%s Overall\n", checkmark(evaluation.OverallMet))
	fmt.Fprintf(&body, "[%d] Warnings\n", record.Progress.Warnings)
	body.WriteString("```")

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("**%s %s**", evaluation.Rank, record.RobloxUsername),
		Description: body.String(),
		Color:       colorGreen,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Generated on " + now.UTC().Format(time.RFC1123)},
	}
	if avatarURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: avatarURL}
	}
	return embed
}

func completionEmbed(completion notify.Completion, now time.Time) *discordgo.MessageEmbed {
	rankName := completion.Rank.String()
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s has completed their %s requirements.", completion.RobloxUsername, rankName),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Roblox User:",
				Value:  fmt.Sprintf("[%s]("+robloxProfileURL+") (%d)", completion.RobloxUsername, completion.RobloxUserID, completion.RobloxUserID),
				Inline: true,
			},
			{Name: "Rank:", Value: rankName, Inline: true},
			{Name: "Discord User:", Value: fmt.Sprintf("%s - %s", mention(completion.DiscordID), completion.DiscordID)},
		},
		Color:  colorGreen,
		Footer: footer(now),
	}
	if completion.AvatarURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: completion.AvatarURL}
	}
	return embed
}

// editLogEmbed records a staff progress edit in the progress log.
func editLogEmbed(title string, record records.Record, change progression.Change, editorID string, now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: title,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Discord User", Value: fmt.Sprintf("%s (%s)", mention(record.DiscordID), record.DiscordID), Inline: true},
			{Name: "Roblox User", Value: fmt.Sprintf("%s (%d)", record.RobloxUsername, record.RobloxUserID), Inline: true},
			{Name: "Rank", Value: record.Rank.String(), Inline: true},
			{Name: "Property Edited", Value: change.String()},
			{Name: "Edited By", Value: fmt.Sprintf("%s (%s)", mention(editorID), editorID)},
		},
		Color:  colorOrange,
		Footer: footer(now),
	}
}

// deletionEmbeds packs reports three fields each, splitting across embeds
// when a batch exceeds the per-embed field limit.
func deletionEmbeds(batch []reports.Report, now time.Time) []*discordgo.MessageEmbed {
	const fieldsPerReport = 3
	perEmbed := maxEmbedFields / fieldsPerReport
	embeds := make([]*discordgo.MessageEmbed, 0, (len(batch)+perEmbed-1)/perEmbed)
	for start := 0; start < len(batch); start += perEmbed {
		end := min(start+perEmbed, len(batch))
		embed := &discordgo.MessageEmbed{
			Title:     "Statistics Deleted",
			Color:     colorRed,
			Timestamp: now.UTC().Format(time.RFC3339),
		}
		for _, report := range batch[start:end] {
			embed.Fields = append(embed.Fields,
				&discordgo.MessageEmbedField{Name: "Discord User:", Value: fmt.Sprintf("%s (%s)", report.DiscordTag, report.DiscordID)},
				&discordgo.MessageEmbedField{Name: "Roblox User:", Value: fmt.Sprintf("%s (%d)", report.RobloxUsername, report.RobloxUserID)},
				&discordgo.MessageEmbedField{Name: "Deletion Reason:", Value: report.Reason},
			)
		}
		embeds = append(embeds, embed)
	}
	return embeds
}

func sessionHeader(session attendance.Snapshot) string {
	return fmt.Sprintf("Host: %s\nEvent Type: %s\nMap: %s", session.HostName, session.EventType, session.MapName)
}

func mentionList(ids []string, separator string) string {
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, mention(id))
	}
	return strings.Join(mentions, separator)
}

func collectingContent(session attendance.Snapshot) string {
	return "A new event is being logged:\n" + sessionHeader(session) + "\n\nClick the button below to log your attendance!"
}

func reviewContent(session attendance.Snapshot) string {
	return "Event logging completed:\n" + sessionHeader(session) + "\n\nAttendees:\n" + mentionList(session.Attendees, "\n")
}

func abandonedContent(session attendance.Snapshot) string {
	return "Event logging expired without submission:\n" + sessionHeader(session)
}

func submittedSummary(session attendance.Snapshot) string {
	return "Event submitted:\n" + sessionHeader(session) + "\nAttendees: " + mentionList(session.Attendees, ", ")
}

func progressLogSummary(session attendance.Snapshot) string {
	return "Event Logged:\n" + sessionHeader(session) + "\n\nAttendees:\n" + mentionList(session.Attendees, "\n")
}

func collectingComponents(sessionID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Log Attendance",
				Style:    discordgo.PrimaryButton,
				CustomID: controlID{SessionID: sessionID, Action: actionRegister}.String(),
			},
		}},
	}
}

func reviewComponents(sessionID string) []discordgo.MessageComponent {
	button := func(label string, style discordgo.ButtonStyle, action string) discordgo.Button {
		return discordgo.Button{Label: label, Style: style, CustomID: controlID{SessionID: sessionID, Action: action}.String()}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			button("Submit", discordgo.SuccessButton, actionSubmit),
			button("Add Member", discordgo.PrimaryButton, actionAdd),
			button("Remove Member", discordgo.DangerButton, actionRemove),
			button("Change Event Type", discordgo.SecondaryButton, actionType),
		}},
	}
}

func searchModal(prompt attendance.Prompt) *discordgo.InteractionResponseData {
	title := "Add Member"
	if prompt.Kind == attendance.PromptRemoveMember {
		title = "Remove Member"
	}
	return &discordgo.InteractionResponseData{
		CustomID: controlID{SessionID: prompt.SessionID, Action: actionSearch, Token: prompt.Token}.String(),
		Title:    title,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID: searchInputID,
					Label:    "Enter username to search",
					Style:    discordgo.TextInputShort,
					Required: true,
				},
			}},
		},
	}
}

func selectionMessage(prompt attendance.Prompt) *discordgo.InteractionResponseData {
	content, placeholder := "Please select the member you want to add:", "Select a member to add"
	switch prompt.Kind {
	case attendance.PromptRemoveMember:
		content, placeholder = "Please select the member you want to remove:", "Select a member to remove"
	case attendance.PromptEventType:
		content, placeholder = "Please select the new event type:", "Select new event type"
	}
	options := make([]discordgo.SelectMenuOption, 0, len(prompt.Options))
	for _, option := range prompt.Options {
		options = append(options, discordgo.SelectMenuOption{Label: option.Label, Value: option.Value})
	}
	return &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID:    controlID{SessionID: prompt.SessionID, Action: actionPick, Token: prompt.Token}.String(),
					Placeholder: placeholder,
					Options:     options,
				},
			}},
		},
	}
}
