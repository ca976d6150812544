package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "REGIMENT"
	defaultDatabasePath        = "regiment.db"
	defaultLogLevel            = "info"
	defaultTokenIssuer         = "regiment-bot"
	defaultTokenAudience       = "regiment-ops"
	defaultTokenTTL            = time.Hour
	defaultRobloxMaxRetries    = 3
	defaultRobloxRetryInterval = 250 * time.Millisecond
	defaultRolesCacheTTL       = 10 * time.Minute
	defaultRequestTimeout      = 30 * time.Second
	defaultReportsCapacity     = 256
	defaultReportsBatchSize    = 10
	defaultReportsFlush        = 30 * time.Second
	defaultCollectWindow       = 20 * time.Second
	defaultSearchTTL           = 60 * time.Second
	defaultSelectionTTL        = 30 * time.Second
	defaultReviewTTL           = 2 * time.Hour
	defaultShutdownTimeout     = 15 * time.Second
)

// CompletionRoute names the channel and ping role for one completion target.
type CompletionRoute struct {
	ChannelID  string
	PingRoleID string
}

// DiscordConfig holds the chat gateway settings.
type DiscordConfig struct {
	Token                 string
	ApplicationID         string
	GuildID               string
	StaffRoleID           string
	ProgressLogChannel    string
	EventLogChannel       string
	EventProgressChannel  string
	DeletionReportChannel string
	RequestTimeout        time.Duration
	ConscriptCompletion   CompletionRoute
	TrooperCompletion     CompletionRoute
	SeniorCompletion      CompletionRoute
}

// RoleConfig maps ranks to guild role ids. The Helios Pathway carries no
// rank role.
type RoleConfig struct {
	Verified            string
	Conscript           string
	Trooper             string
	SeniorTrooper       string
	CommissariatPathway string
}

// RobloxConfig holds the group-management client settings.
type RobloxConfig struct {
	GroupID        int64
	SecurityCookie string
	MaxRetries     uint64
	RetryInterval  time.Duration
	RolesCacheTTL  time.Duration
}

// ReportsConfig tunes the deletion report batcher.
type ReportsConfig struct {
	Capacity      int
	BatchSize     int
	FlushInterval time.Duration
}

// AttendanceConfig tunes the attendance session timers.
type AttendanceConfig struct {
	CollectWindow time.Duration
	SearchTTL     time.Duration
	SelectionTTL  time.Duration
	ReviewTTL     time.Duration
}

// AuthConfig configures operator tokens for the operations API.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
}

// AppConfig captures runtime configuration for the bot.
type AppConfig struct {
	HTTPAddress     string
	AllowedOrigins  []string
	DatabasePath    string
	LogLevel        string
	ShutdownTimeout time.Duration
	Discord         DiscordConfig
	Roles           RoleConfig
	Roblox          RobloxConfig
	Reports         ReportsConfig
	Attendance      AttendanceConfig
	Auth            AuthConfig
}

// APIEnabled reports whether the operations API should listen.
func (c AppConfig) APIEnabled() bool {
	return strings.TrimSpace(c.HTTPAddress) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", "")
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("shutdown.timeout", defaultShutdownTimeout)

	configViper.SetDefault("discord.request_timeout", defaultRequestTimeout)

	configViper.SetDefault("roblox.max_retries", defaultRobloxMaxRetries)
	configViper.SetDefault("roblox.retry_interval", defaultRobloxRetryInterval)
	configViper.SetDefault("roblox.roles_cache_ttl", defaultRolesCacheTTL)

	configViper.SetDefault("reports.capacity", defaultReportsCapacity)
	configViper.SetDefault("reports.batch_size", defaultReportsBatchSize)
	configViper.SetDefault("reports.flush_interval", defaultReportsFlush)

	configViper.SetDefault("attendance.collect_window", defaultCollectWindow)
	configViper.SetDefault("attendance.search_ttl", defaultSearchTTL)
	configViper.SetDefault("attendance.selection_ttl", defaultSelectionTTL)
	configViper.SetDefault("attendance.review_ttl", defaultReviewTTL)

	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		AllowedOrigins:  configViper.GetStringSlice("http.allowed_origins"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		ShutdownTimeout: configViper.GetDuration("shutdown.timeout"),
		Discord: DiscordConfig{
			Token:                 configViper.GetString("discord.token"),
			ApplicationID:         configViper.GetString("discord.application_id"),
			GuildID:               configViper.GetString("discord.guild_id"),
			StaffRoleID:           configViper.GetString("discord.staff_role_id"),
			ProgressLogChannel:    configViper.GetString("discord.channels.progress_log"),
			EventLogChannel:       configViper.GetString("discord.channels.event_log"),
			EventProgressChannel:  configViper.GetString("discord.channels.event_progress_log"),
			DeletionReportChannel: configViper.GetString("discord.channels.deletion_reports"),
			RequestTimeout:        configViper.GetDuration("discord.request_timeout"),
			ConscriptCompletion:   completionRoute(configViper, "conscript"),
			TrooperCompletion:     completionRoute(configViper, "trooper"),
			SeniorCompletion:      completionRoute(configViper, "senior_trooper"),
		},
		Roles: RoleConfig{
			Verified:            configViper.GetString("roles.verified"),
			Conscript:           configViper.GetString("roles.conscript"),
			Trooper:             configViper.GetString("roles.trooper"),
			SeniorTrooper:       configViper.GetString("roles.senior_trooper"),
			CommissariatPathway: configViper.GetString("roles.commissariat_pathway"),
		},
		Roblox: RobloxConfig{
			GroupID:        configViper.GetInt64("roblox.group_id"),
			SecurityCookie: configViper.GetString("roblox.security_cookie"),
			MaxRetries:     configViper.GetUint64("roblox.max_retries"),
			RetryInterval:  configViper.GetDuration("roblox.retry_interval"),
			RolesCacheTTL:  configViper.GetDuration("roblox.roles_cache_ttl"),
		},
		Reports: ReportsConfig{
			Capacity:      configViper.GetInt("reports.capacity"),
			BatchSize:     configViper.GetInt("reports.batch_size"),
			FlushInterval: configViper.GetDuration("reports.flush_interval"),
		},
		Attendance: AttendanceConfig{
			CollectWindow: configViper.GetDuration("attendance.collect_window"),
			SearchTTL:     configViper.GetDuration("attendance.search_ttl"),
			SelectionTTL:  configViper.GetDuration("attendance.selection_ttl"),
			ReviewTTL:     configViper.GetDuration("attendance.review_ttl"),
		},
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			Audience:      configViper.GetString("auth.audience"),
			TokenTTL:      configViper.GetDuration("auth.token_ttl"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadAuth parses only the operator token settings, for tooling that does
// not connect to the gateway.
func LoadAuth(configViper *viper.Viper) (AuthConfig, error) {
	cfg := AuthConfig{
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		Audience:      configViper.GetString("auth.audience"),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),
	}
	if err := cfg.validate(); err != nil {
		return AuthConfig{}, err
	}
	return cfg, nil
}

func completionRoute(configViper *viper.Viper, target string) CompletionRoute {
	return CompletionRoute{
		ChannelID:  configViper.GetString("discord.completion." + target + ".channel"),
		PingRoleID: configViper.GetString("discord.completion." + target + ".ping_role"),
	}
}

func (c AppConfig) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"discord.token", c.Discord.Token},
		{"discord.application_id", c.Discord.ApplicationID},
		{"discord.guild_id", c.Discord.GuildID},
		{"discord.staff_role_id", c.Discord.StaffRoleID},
		{"database.path", c.DatabasePath},
		{"roles.verified", c.Roles.Verified},
		{"roles.conscript", c.Roles.Conscript},
		{"roles.trooper", c.Roles.Trooper},
		{"roles.senior_trooper", c.Roles.SeniorTrooper},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s is required", field.key)
		}
	}
	if c.Roblox.GroupID <= 0 {
		return fmt.Errorf("roblox.group_id is required")
	}
	if c.Reports.BatchSize <= 0 || c.Reports.Capacity < c.Reports.BatchSize {
		return fmt.Errorf("reports.capacity must be at least reports.batch_size (>0)")
	}
	if c.Attendance.CollectWindow <= 0 || c.Attendance.SearchTTL <= 0 || c.Attendance.SelectionTTL <= 0 || c.Attendance.ReviewTTL <= 0 {
		return fmt.Errorf("attendance timings must be positive")
	}
	if c.APIEnabled() {
		if err := c.Auth.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c AuthConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.Issuer) == "" || strings.TrimSpace(c.Audience) == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}
