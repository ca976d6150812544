package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validViper() *viper.Viper {
	v := NewViper()
	v.Set("discord.token", "bot-token")
	v.Set("discord.application_id", "app")
	v.Set("discord.guild_id", "guild")
	v.Set("discord.staff_role_id", "staff")
	v.Set("roles.verified", "r-verified")
	v.Set("roles.conscript", "r-conscript")
	v.Set("roles.trooper", "r-trooper")
	v.Set("roles.senior_trooper", "r-senior")
	v.Set("roblox.group_id", 4242)
	return v
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(validViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path: %s", cfg.DatabasePath)
	}
	if cfg.APIEnabled() {
		t.Fatalf("expected the operations API to be disabled by default")
	}
	if cfg.Attendance.CollectWindow != 20*time.Second || cfg.Attendance.SelectionTTL != 30*time.Second || cfg.Attendance.SearchTTL != 60*time.Second {
		t.Fatalf("unexpected attendance timings: %+v", cfg.Attendance)
	}
	if cfg.Reports.BatchSize != defaultReportsBatchSize || cfg.Roblox.MaxRetries != defaultRobloxMaxRetries {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Reports, cfg.Roblox)
	}
	if cfg.Roblox.GroupID != 4242 {
		t.Fatalf("unexpected group id: %d", cfg.Roblox.GroupID)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("REGIMENT_DISCORD_COMPLETION_TROOPER_CHANNEL", "c-trooper")
	t.Setenv("REGIMENT_DISCORD_COMPLETION_TROOPER_PING_ROLE", "p-trooper")
	t.Setenv("REGIMENT_ATTENDANCE_COLLECT_WINDOW", "5s")

	cfg, err := Load(validViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Discord.TrooperCompletion != (CompletionRoute{ChannelID: "c-trooper", PingRoleID: "p-trooper"}) {
		t.Fatalf("unexpected trooper route: %+v", cfg.Discord.TrooperCompletion)
	}
	if cfg.Attendance.CollectWindow != 5*time.Second {
		t.Fatalf("unexpected collect window: %s", cfg.Attendance.CollectWindow)
	}
}

func TestLoadRejectsMissingValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*viper.Viper)
		want   string
	}{
		{name: "token", mutate: func(v *viper.Viper) { v.Set("discord.token", " ") }, want: "discord.token"},
		{name: "staff role", mutate: func(v *viper.Viper) { v.Set("discord.staff_role_id", "") }, want: "discord.staff_role_id"},
		{name: "group", mutate: func(v *viper.Viper) { v.Set("roblox.group_id", 0) }, want: "roblox.group_id"},
		{name: "rank role", mutate: func(v *viper.Viper) { v.Set("roles.trooper", "") }, want: "roles.trooper"},
		{name: "batch", mutate: func(v *viper.Viper) { v.Set("reports.capacity", 2) }, want: "reports.capacity"},
		{name: "timings", mutate: func(v *viper.Viper) { v.Set("attendance.review_ttl", "0s") }, want: "attendance timings"},
		{
			name:   "api without secret",
			mutate: func(v *viper.Viper) { v.Set("http.address", "127.0.0.1:8080") },
			want:   "auth.signing_secret",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			v := validViper()
			testCase.mutate(v)
			_, err := Load(v)
			if err == nil || !strings.Contains(err.Error(), testCase.want) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.want, err)
			}
		})
	}
}

func TestLoadAcceptsAPIWithSecret(t *testing.T) {
	v := validViper()
	v.Set("http.address", "127.0.0.1:8080")
	v.Set("auth.signing_secret", "s3cret")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.APIEnabled() || cfg.Auth.Issuer != defaultTokenIssuer {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
}

func TestLoadAuthOnlyNeedsTokenSettings(t *testing.T) {
	v := NewViper()
	if _, err := LoadAuth(v); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
	v.Set("auth.signing_secret", "s3cret")
	cfg, err := LoadAuth(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TokenTTL != defaultTokenTTL {
		t.Fatalf("unexpected ttl: %s", cfg.TokenTTL)
	}
}
