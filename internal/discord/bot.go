// Package discord adapts the chat gateway to the progression services:
// slash commands, attendance controls, role edits and log channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/attendance"
	"github.com/MarcoPoloResearchLab/regiment/internal/notify"
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/reports"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 30 * time.Second
	memberPageSize        = 1000
	maxEmbedsPerMessage   = 10
)

var (
	// ErrInvalidConfig indicates missing gateway settings.
	ErrInvalidConfig = errors.New("discord: invalid configuration")
	// ErrNoCompletionRoute indicates a completion target without a channel.
	ErrNoCompletionRoute = errors.New("discord: no completion channel for target")
	errNotBound          = errors.New("discord: handlers not bound")
)

// Channels are the log destinations.
type Channels struct {
	ProgressLog      string
	EventLog         string
	EventProgressLog string
	DeletionReports  string
}

// CompletionRoute is where one completion target is announced.
type CompletionRoute struct {
	ChannelID  string
	PingRoleID string
}

// Config bundles the gateway settings.
type Config struct {
	Token          string
	ApplicationID  string
	GuildID        string
	StaffRoleID    string
	Channels       Channels
	Completions    map[progression.CompletionTarget]CompletionRoute
	RequestTimeout time.Duration
	Clock          func() time.Time
	Logger         *zap.Logger
}

type messageRef struct {
	channelID string
	messageID string
}

// Bot owns the gateway session and the interaction handlers.
type Bot struct {
	cfg      Config
	session  *discordgo.Session
	logger   *zap.Logger
	clock    func() time.Time
	handlers Handlers

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	sessionMessages sync.Map
}

// NewBot validates the configuration and prepares an unopened session.
func NewBot(cfg Config) (*Bot, error) {
	if cfg.Token == "" || cfg.GuildID == "" {
		return nil, fmt.Errorf("%w: token and guild id are required", ErrInvalidConfig)
	}
	if cfg.StaffRoleID == "" {
		return nil, fmt.Errorf("%w: staff role id is required", ErrInvalidConfig)
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		cfg:     cfg,
		session: session,
		logger:  logger,
		clock:   clock,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Bind installs the services used by the interaction handlers.
func (b *Bot) Bind(handlers Handlers) {
	b.handlers = handlers
}

// Open connects the gateway and overwrites the guild command set.
func (b *Bot) Open(ctx context.Context) error {
	if err := b.handlers.validate(); err != nil {
		return err
	}
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteraction)
	b.session.AddHandler(b.onMemberRemove)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	applicationID := b.cfg.ApplicationID
	if applicationID == "" && b.session.State != nil && b.session.State.User != nil {
		applicationID = b.session.State.User.ID
	}
	registered, err := b.session.ApplicationCommandBulkOverwrite(applicationID, b.cfg.GuildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.logger.Info("slash commands registered", zap.Int("count", len(registered)), zap.String("guild_id", b.cfg.GuildID))
	return nil
}

// Close waits for in-flight interactions and disconnects.
func (b *Bot) Close(ctx context.Context) error {
	b.cancel()
	finished := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		b.logger.Warn("interactions still running at shutdown")
	}
	return b.session.Close()
}

func (b *Bot) onReady(_ *discordgo.Session, ready *discordgo.Ready) {
	b.logger.Info("gateway ready", zap.String("user", ready.User.String()))
}

func (b *Bot) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, b.cfg.RequestTimeout)
}

// RemoveRoles removes each role, continuing past failures.
func (b *Bot) RemoveRoles(ctx context.Context, discordID string, roleIDs []string) error {
	var errs []error
	for _, roleID := range roleIDs {
		if err := b.session.GuildMemberRoleRemove(b.cfg.GuildID, discordID, roleID, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("remove role %s: %w", roleID, err))
		}
	}
	return errors.Join(errs...)
}

// AddRoles grants each role, continuing past failures.
func (b *Bot) AddRoles(ctx context.Context, discordID string, roleIDs []string) error {
	var errs []error
	for _, roleID := range roleIDs {
		if err := b.session.GuildMemberRoleAdd(b.cfg.GuildID, discordID, roleID, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("add role %s: %w", roleID, err))
		}
	}
	return errors.Join(errs...)
}

// SetNickname rewrites the member's guild nickname.
func (b *Bot) SetNickname(ctx context.Context, discordID, nickname string) error {
	return b.session.GuildMemberNickname(b.cfg.GuildID, discordID, nickname, discordgo.WithContext(ctx))
}

// Members pages through the guild member list.
func (b *Bot) Members(ctx context.Context) ([]attendance.Member, error) {
	var (
		members []attendance.Member
		after   string
	)
	for {
		page, err := b.session.GuildMembers(b.cfg.GuildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, member := range page {
			if member.User == nil || member.User.Bot {
				continue
			}
			members = append(members, attendance.Member{
				ID:       member.User.ID,
				Username: member.User.Username,
				Nickname: member.Nick,
			})
		}
		if len(page) < memberPageSize {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// AnnounceCompletion pings the target role and posts the completion embed.
func (b *Bot) AnnounceCompletion(ctx context.Context, completion notify.Completion) error {
	route, ok := b.cfg.Completions[completion.Target]
	if !ok || route.ChannelID == "" {
		return fmt.Errorf("%w: %s", ErrNoCompletionRoute, completion.Target)
	}
	if route.PingRoleID != "" {
		if _, err := b.session.ChannelMessageSend(route.ChannelID, roleMention(route.PingRoleID), discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	_, err := b.session.ChannelMessageSendEmbed(route.ChannelID, completionEmbed(completion, b.clock()), discordgo.WithContext(ctx))
	return err
}

// PublishDeletions posts a deletion report batch.
func (b *Bot) PublishDeletions(ctx context.Context, batch []reports.Report) error {
	if b.cfg.Channels.DeletionReports == "" {
		return fmt.Errorf("%w: deletion report channel not configured", ErrInvalidConfig)
	}
	embeds := deletionEmbeds(batch, b.clock())
	for start := 0; start < len(embeds); start += maxEmbedsPerMessage {
		end := min(start+maxEmbedsPerMessage, len(embeds))
		if _, err := b.session.ChannelMessageSendEmbeds(b.cfg.Channels.DeletionReports, embeds[start:end], discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// ShowCollecting posts the registration message for a new session.
func (b *Bot) ShowCollecting(ctx context.Context, session attendance.Snapshot) error {
	message, err := b.session.ChannelMessageSendComplex(b.cfg.Channels.EventLog, &discordgo.MessageSend{
		Content:    collectingContent(session),
		Components: collectingComponents(session.ID),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	b.sessionMessages.Store(session.ID, messageRef{channelID: message.ChannelID, messageID: message.ID})
	return nil
}

// ShowReview rewrites the session message with the attendee list and host controls.
func (b *Bot) ShowReview(ctx context.Context, session attendance.Snapshot) error {
	return b.editSessionMessage(ctx, session.ID, reviewContent(session), reviewComponents(session.ID))
}

// ShowFinalized strips the controls and publishes the event summaries.
func (b *Bot) ShowFinalized(ctx context.Context, summary attendance.Summary) error {
	session := summary.Session
	errs := []error{
		b.editSessionMessage(ctx, session.ID, "Event submitted and progress updated for all attendees.\n"+sessionHeader(session), []discordgo.MessageComponent{}),
	}
	b.sessionMessages.Delete(session.ID)
	if b.cfg.Channels.EventLog != "" {
		_, err := b.session.ChannelMessageSend(b.cfg.Channels.EventLog, submittedSummary(session), discordgo.WithContext(ctx))
		errs = append(errs, err)
	}
	if b.cfg.Channels.EventProgressLog != "" {
		_, err := b.session.ChannelMessageSend(b.cfg.Channels.EventProgressLog, progressLogSummary(session), discordgo.WithContext(ctx))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ShowAbandoned strips the controls from an expired session.
func (b *Bot) ShowAbandoned(ctx context.Context, session attendance.Snapshot) error {
	err := b.editSessionMessage(ctx, session.ID, abandonedContent(session), []discordgo.MessageComponent{})
	b.sessionMessages.Delete(session.ID)
	return err
}

func (b *Bot) editSessionMessage(ctx context.Context, sessionID, content string, components []discordgo.MessageComponent) error {
	value, ok := b.sessionMessages.Load(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", attendance.ErrSessionNotFound, sessionID)
	}
	ref := value.(messageRef)
	edit := discordgo.NewMessageEdit(ref.channelID, ref.messageID).SetContent(content)
	edit.Components = &components
	_, err := b.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

func (b *Bot) postProgressLog(ctx context.Context, embed *discordgo.MessageEmbed) {
	if b.cfg.Channels.ProgressLog == "" {
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(b.cfg.Channels.ProgressLog, embed, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("progress log post failed", zap.Error(err))
	}
}
