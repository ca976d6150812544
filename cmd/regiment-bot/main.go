package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/MarcoPoloResearchLab/regiment/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const serviceName = "regiment-bot"

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Rank progression and attendance bot",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Operator token signing secret (overrides env)")

	cmd.Flags().String("http-address", defaults.GetString("http.address"), "Operations API listen address; empty disables the API")
	cmd.Flags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.Flags().String("guild-id", "", "Guild the bot serves")
	cmd.Flags().Int64("group-id", 0, "Group whose ranks the bot manages")

	bindFlag(cmd.PersistentFlags().Lookup("log-level"), "log.level")
	bindFlag(cmd.PersistentFlags().Lookup("signing-secret"), "auth.signing_secret")
	bindFlag(cmd.Flags().Lookup("http-address"), "http.address")
	bindFlag(cmd.Flags().Lookup("database-path"), "database.path")
	bindFlag(cmd.Flags().Lookup("guild-id"), "discord.guild_id")
	bindFlag(cmd.Flags().Lookup("group-id"), "roblox.group_id")
}

func bindFlag(flag *pflag.Flag, key string) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		return viper.ReadInConfig()
	}

	viper.SetConfigName(serviceName)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}
