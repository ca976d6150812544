package discord

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/MarcoPoloResearchLab/regiment/internal/attendance"
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/promotion"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/tracker"
	"github.com/MarcoPoloResearchLab/regiment/internal/verification"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ProgressService is the tracker surface used by commands.
type ProgressService interface {
	Refresh(ctx context.Context, discordID records.DiscordID) (tracker.Status, error)
	RefreshByUsername(ctx context.Context, username string) (tracker.Status, error)
	EditProgress(ctx context.Context, edit tracker.Edit) (tracker.EditResult, error)
	HandleMemberLeft(ctx context.Context, departure tracker.Departure) (bool, error)
}

// RankService is the promotion surface used by commands.
type RankService interface {
	Promote(ctx context.Context, username string, rank progression.Rank) (records.Record, error)
	AssignPathway(ctx context.Context, username string, pathway progression.Rank) (records.Record, error)
	SyncFromGroup(ctx context.Context, discordID records.DiscordID) (promotion.SyncResult, error)
}

// VerificationService is the verification surface used by commands.
type VerificationService interface {
	Start(ctx context.Context, discordID records.DiscordID, username string) (verification.Challenge, error)
	Check(ctx context.Context, discordID records.DiscordID) (tracker.Status, error)
}

// AttendanceService is the attendance engine surface used by controls.
type AttendanceService interface {
	Start(ctx context.Context, event attendance.Event) (attendance.Snapshot, error)
	Register(ctx context.Context, sessionID, memberID string) (bool, error)
	OpenPrompt(ctx context.Context, sessionID, actorID string, kind attendance.PromptKind) (attendance.Prompt, error)
	Search(ctx context.Context, sessionID, actorID, token, term string) (attendance.Prompt, error)
	Pick(ctx context.Context, sessionID, actorID, token, value string) (attendance.Snapshot, error)
	Submit(ctx context.Context, sessionID, actorID string) (attendance.Summary, error)
}

// AvatarSource resolves headshot URLs.
type AvatarSource interface {
	AvatarURL(ctx context.Context, robloxUserID int64) string
}

// Handlers are the services behind the commands.
type Handlers struct {
	Progress     ProgressService
	Ranks        RankService
	Verification VerificationService
	Attendance   AttendanceService
	Avatars      AvatarSource
}

func (h Handlers) validate() error {
	if h.Progress == nil || h.Ranks == nil || h.Verification == nil || h.Attendance == nil || h.Avatars == nil {
		return errNotBound
	}
	return nil
}

var promptKinds = map[string]attendance.PromptKind{
	actionAdd:    attendance.PromptAddMember,
	actionRemove: attendance.PromptRemoveMember,
	actionType:   attendance.PromptEventType,
}

func actorID(interaction *discordgo.Interaction) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func hasRole(member *discordgo.Member, roleID string) bool {
	return member != nil && roleID != "" && slices.Contains(member.Roles, roleID)
}

func (b *Bot) onInteraction(_ *discordgo.Session, event *discordgo.InteractionCreate) {
	b.inflight.Add(1)
	defer b.inflight.Done()
	ctx, cancel := b.requestContext()
	defer cancel()
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("interaction handler panicked",
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
			b.replyEphemeral(event.Interaction, genericFailure)
		}
	}()

	switch event.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, event.Interaction)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, event.Interaction)
	case discordgo.InteractionModalSubmit:
		b.handleModal(ctx, event.Interaction)
	}
}

func (b *Bot) onMemberRemove(_ *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.Member.User == nil || event.GuildID != b.cfg.GuildID {
		return
	}
	b.inflight.Add(1)
	defer b.inflight.Done()
	ctx, cancel := b.requestContext()
	defer cancel()
	user := event.Member.User
	if _, err := b.handlers.Progress.HandleMemberLeft(ctx, tracker.Departure{
		DiscordID:  records.DiscordID(user.ID),
		DiscordTag: user.String(),
	}); err != nil {
		b.logger.Error("member departure cleanup failed", zap.String("discord_id", user.ID), zap.Error(err))
	}
}

func (b *Bot) handleCommand(ctx context.Context, interaction *discordgo.Interaction) {
	data := interaction.ApplicationCommandData()
	actor := actorID(interaction)
	logger := b.logger.With(zap.String("command", data.Name), zap.String("actor_id", actor))
	logger.Debug("command received")

	if !publicCommands[data.Name] && !hasRole(interaction.Member, b.cfg.StaffRoleID) {
		b.replyEphemeral(interaction, userMessage(errUnauthorized))
		return
	}

	ephemeral := data.Name == commandVerify || data.Name == commandCheckVerification || data.Name == commandUpdate
	if err := b.deferReply(interaction, ephemeral); err != nil {
		logger.Warn("defer reply failed", zap.Error(err))
		return
	}

	var err error
	switch data.Name {
	case commandVerify:
		err = b.runVerify(ctx, interaction, options(data.Options))
	case commandCheckVerification:
		err = b.runCheckVerification(ctx, interaction)
	case commandProgress:
		err = b.runProgress(ctx, interaction)
	case commandUpdate:
		err = b.runUpdate(ctx, interaction)
	case commandCheckProgress:
		err = b.runCheckProgress(ctx, interaction, options(data.Options))
	case commandEditProgress, commandEditHelios:
		err = b.runSubcommandEdit(ctx, interaction, data)
	case commandEditAssignments:
		err = b.runEdit(ctx, interaction, options(data.Options), progression.FieldCompleteAssignments, tracker.ScopeAssignments)
	case commandPromote:
		err = b.runPromote(ctx, interaction, options(data.Options))
	case commandAssignHelios:
		err = b.runAssignPathway(ctx, interaction, options(data.Options), progression.RankHeliosPathway)
	case commandAssignCommissariat:
		err = b.runAssignPathway(ctx, interaction, options(data.Options), progression.RankCommissariatPathway)
	case commandLogEvent:
		err = b.runLogEvent(ctx, interaction, options(data.Options))
	default:
		err = fmt.Errorf("unknown command %q", data.Name)
	}
	if err != nil {
		if !expected(err) {
			logger.Error("command failed", zap.Error(err))
		}
		b.editReply(interaction, userMessage(err))
	}
}

func options(raw []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	values := make(map[string]string, len(raw))
	for _, option := range raw {
		if option.Type == discordgo.ApplicationCommandOptionString {
			values[option.Name] = option.StringValue()
		}
	}
	return values
}

func (b *Bot) runVerify(ctx context.Context, interaction *discordgo.Interaction, values map[string]string) error {
	challenge, err := b.handlers.Verification.Start(ctx, records.DiscordID(actorID(interaction)), values[optionUsername])
	if err != nil {
		return err
	}
	b.editReply(interaction, fmt.Sprintf("Please add the following code to your Roblox profile blurb: **%s**.", challenge.Code))
	return nil
}

func (b *Bot) runCheckVerification(ctx context.Context, interaction *discordgo.Interaction) error {
	status, err := b.handlers.Verification.Check(ctx, records.DiscordID(actorID(interaction)))
	if err != nil {
		return err
	}
	b.editReply(interaction, fmt.Sprintf("Verification successful! You have been verified as %s.", status.Record.Rank))
	b.postProgressLog(ctx, b.statusEmbed(ctx, status))
	return nil
}

func (b *Bot) runProgress(ctx context.Context, interaction *discordgo.Interaction) error {
	status, err := b.handlers.Progress.Refresh(ctx, records.DiscordID(actorID(interaction)))
	if err != nil {
		return err
	}
	b.editReply(interaction, "", b.statusEmbed(ctx, status))
	return nil
}

func (b *Bot) runUpdate(ctx context.Context, interaction *discordgo.Interaction) error {
	result, err := b.handlers.Ranks.SyncFromGroup(ctx, records.DiscordID(actorID(interaction)))
	if err != nil {
		return err
	}
	if !result.Changed {
		b.editReply(interaction, "Your roles are already up to date.")
		return nil
	}
	b.editReply(interaction, fmt.Sprintf("Your roles have been updated to %s.", result.Record.Rank))
	return nil
}

func (b *Bot) runCheckProgress(ctx context.Context, interaction *discordgo.Interaction, values map[string]string) error {
	status, err := b.handlers.Progress.RefreshByUsername(ctx, values[optionName])
	if err != nil {
		return err
	}
	b.editReply(interaction, "", b.statusEmbed(ctx, status))
	return nil
}

func (b *Bot) runSubcommandEdit(ctx context.Context, interaction *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) error {
	if len(data.Options) == 0 {
		return progression.ErrNotEditable
	}
	sub := data.Options[0]
	if data.Name == commandEditHelios {
		field, ok := heliosSubcommands[sub.Name]
		if !ok {
			return progression.ErrNotEditable
		}
		return b.runEdit(ctx, interaction, options(sub.Options), field, tracker.ScopeHeliosLeadership)
	}
	field, err := progression.ParseField(sub.Name)
	if err != nil {
		return err
	}
	return b.runEdit(ctx, interaction, options(sub.Options), field, tracker.ScopeGeneral)
}

func (b *Bot) runEdit(ctx context.Context, interaction *discordgo.Interaction, values map[string]string, field progression.Field, scope tracker.Scope) error {
	action, err := progression.ParseAction(values[optionAction])
	if err != nil {
		return err
	}
	username := values[optionUsername]
	result, err := b.handlers.Progress.EditProgress(ctx, tracker.Edit{
		Username: username,
		Field:    field,
		Action:   action,
		Scope:    scope,
	})
	if err != nil {
		return err
	}
	title := "Progress Report Edited"
	if scope == tracker.ScopeHeliosLeadership {
		title = "Helios Pathway Progress Report Edited"
	}
	b.editReply(interaction, fmt.Sprintf("Successfully updated %s's progress. %s", result.Status.Record.RobloxUsername, result.Change), b.statusEmbed(ctx, result.Status))
	b.postProgressLog(ctx, editLogEmbed(title, result.Status.Record, result.Change, actorID(interaction), b.clock()))
	return nil
}

func (b *Bot) runPromote(ctx context.Context, interaction *discordgo.Interaction, values map[string]string) error {
	rank, err := progression.ParseRank(values[optionRank])
	if err != nil {
		return err
	}
	record, err := b.handlers.Ranks.Promote(ctx, values[optionUsername], rank)
	if err != nil {
		return err
	}
	b.editReply(interaction, fmt.Sprintf("Successfully promoted %s to %s.", record.RobloxUsername, record.Rank))
	return nil
}

func (b *Bot) runAssignPathway(ctx context.Context, interaction *discordgo.Interaction, values map[string]string, pathway progression.Rank) error {
	record, err := b.handlers.Ranks.AssignPathway(ctx, values[optionUsername], pathway)
	if err != nil {
		return err
	}
	b.editReply(interaction, fmt.Sprintf("Successfully assigned %s to the %s.", record.RobloxUsername, record.Rank))
	return nil
}

func (b *Bot) runLogEvent(ctx context.Context, interaction *discordgo.Interaction, values map[string]string) error {
	eventType, err := progression.ParseEventType(values[optionEventType])
	if err != nil {
		return err
	}
	if _, err := b.handlers.Attendance.Start(ctx, attendance.Event{
		HostID:    actorID(interaction),
		HostName:  values[optionHostName],
		EventType: eventType,
		MapName:   values[optionMapName],
	}); err != nil {
		return err
	}
	b.editReply(interaction, "Event logging started. Check the logging channel.")
	return nil
}

func (b *Bot) statusEmbed(ctx context.Context, status tracker.Status) *discordgo.MessageEmbed {
	avatar := b.handlers.Avatars.AvatarURL(ctx, status.Record.RobloxUserID)
	return progressEmbed(status.Record, status.Evaluation, avatar, b.clock())
}

func (b *Bot) handleComponent(ctx context.Context, interaction *discordgo.Interaction) {
	data := interaction.MessageComponentData()
	control, err := parseControlID(data.CustomID)
	if err != nil {
		b.logger.Debug("ignoring unknown component", zap.String("custom_id", data.CustomID))
		return
	}
	actor := actorID(interaction)

	switch control.Action {
	case actionRegister:
		added, err := b.handlers.Attendance.Register(ctx, control.SessionID, actor)
		if err != nil {
			b.replyEphemeral(interaction, userMessage(err))
			return
		}
		if !added {
			b.replyEphemeral(interaction, "Your attendance is already logged.")
			return
		}
		b.replyEphemeral(interaction, "Your attendance has been logged!")
	case actionSubmit:
		if err := b.session.InteractionRespond(interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		}); err != nil {
			b.logger.Warn("defer update failed", zap.Error(err))
			return
		}
		if _, err := b.handlers.Attendance.Submit(ctx, control.SessionID, actor); err != nil {
			b.followUpEphemeral(interaction, userMessage(err))
		}
	case actionAdd, actionRemove, actionType:
		prompt, err := b.handlers.Attendance.OpenPrompt(ctx, control.SessionID, actor, promptKinds[control.Action])
		if err != nil {
			b.replyEphemeral(interaction, userMessage(err))
			return
		}
		if prompt.Kind == attendance.PromptEventType {
			b.respond(interaction, discordgo.InteractionResponseChannelMessageWithSource, selectionMessage(prompt))
			return
		}
		b.respond(interaction, discordgo.InteractionResponseModal, searchModal(prompt))
	case actionPick:
		if len(data.Values) == 0 {
			b.replyEphemeral(interaction, userMessage(attendance.ErrInvalidChoice))
			return
		}
		value := data.Values[0]
		snapshot, err := b.handlers.Attendance.Pick(ctx, control.SessionID, actor, control.Token, value)
		if err != nil {
			b.respond(interaction, discordgo.InteractionResponseUpdateMessage, &discordgo.InteractionResponseData{
				Content:    userMessage(err),
				Components: []discordgo.MessageComponent{},
			})
			return
		}
		b.respond(interaction, discordgo.InteractionResponseUpdateMessage, &discordgo.InteractionResponseData{
			Content:    pickConfirmation(snapshot, value),
			Components: []discordgo.MessageComponent{},
		})
	}
}

func pickConfirmation(snapshot attendance.Snapshot, value string) string {
	switch {
	case string(snapshot.EventType) == value:
		return "Event type changed to: " + value
	case slices.Contains(snapshot.Attendees, value):
		return mention(value) + " has been added to the attendees list."
	default:
		return mention(value) + " has been removed from the attendees list."
	}
}

func (b *Bot) handleModal(ctx context.Context, interaction *discordgo.Interaction) {
	data := interaction.ModalSubmitData()
	control, err := parseControlID(data.CustomID)
	if err != nil || control.Action != actionSearch {
		b.logger.Debug("ignoring unknown modal", zap.String("custom_id", data.CustomID))
		return
	}
	prompt, err := b.handlers.Attendance.Search(ctx, control.SessionID, actorID(interaction), control.Token, modalValue(data, searchInputID))
	if err != nil {
		b.replyEphemeral(interaction, userMessage(err))
		return
	}
	b.respond(interaction, discordgo.InteractionResponseChannelMessageWithSource, selectionMessage(prompt))
}

func modalValue(data discordgo.ModalSubmitInteractionData, inputID string) string {
	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok && input.CustomID == inputID {
				return input.Value
			}
		}
	}
	return ""
}

func (b *Bot) respond(interaction *discordgo.Interaction, kind discordgo.InteractionResponseType, data *discordgo.InteractionResponseData) {
	if err := b.session.InteractionRespond(interaction, &discordgo.InteractionResponse{Type: kind, Data: data}); err != nil {
		b.logger.Warn("interaction response failed", zap.Error(err))
	}
}

func (b *Bot) replyEphemeral(interaction *discordgo.Interaction, content string) {
	b.respond(interaction, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

func (b *Bot) deferReply(interaction *discordgo.Interaction, ephemeral bool) error {
	response := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		response.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	return b.session.InteractionRespond(interaction, response)
}

func (b *Bot) editReply(interaction *discordgo.Interaction, content string, embeds ...*discordgo.MessageEmbed) {
	edit := &discordgo.WebhookEdit{Content: &content}
	if len(embeds) > 0 {
		edit.Embeds = &embeds
	}
	if _, err := b.session.InteractionResponseEdit(interaction, edit); err != nil {
		b.logger.Warn("reply edit failed", zap.Error(err))
	}
}

func (b *Bot) followUpEphemeral(interaction *discordgo.Interaction, content string) {
	if _, err := b.session.FollowupMessageCreate(interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		b.logger.Warn("follow-up failed", zap.Error(err))
	}
}
