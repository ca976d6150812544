package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/attendance"
	"github.com/MarcoPoloResearchLab/regiment/internal/auth"
	"github.com/MarcoPoloResearchLab/regiment/internal/config"
	"github.com/MarcoPoloResearchLab/regiment/internal/database"
	"github.com/MarcoPoloResearchLab/regiment/internal/discord"
	"github.com/MarcoPoloResearchLab/regiment/internal/logging"
	"github.com/MarcoPoloResearchLab/regiment/internal/metrics"
	"github.com/MarcoPoloResearchLab/regiment/internal/notify"
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/promotion"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/reports"
	"github.com/MarcoPoloResearchLab/regiment/internal/roblox"
	"github.com/MarcoPoloResearchLab/regiment/internal/server"
	"github.com/MarcoPoloResearchLab/regiment/internal/tracker"
	"github.com/MarcoPoloResearchLab/regiment/internal/verification"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runBot(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, serviceName)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	collectors := metrics.New()
	activity := server.NewActivityDispatcher(time.Now)

	store, err := records.NewStore(records.StoreConfig{Database: db, Logger: logger.Named("records")})
	if err != nil {
		return err
	}

	robloxClient, err := roblox.NewClient(roblox.ClientConfig{
		GroupID:        appConfig.Roblox.GroupID,
		SecurityCookie: appConfig.Roblox.SecurityCookie,
		MaxRetries:     appConfig.Roblox.MaxRetries,
		RetryInterval:  appConfig.Roblox.RetryInterval,
		RolesCacheTTL:  appConfig.Roblox.RolesCacheTTL,
		Recorder:       collectors,
		Logger:         logger.Named("roblox"),
	})
	if err != nil {
		return err
	}
	if appConfig.Roblox.SecurityCookie == "" {
		logger.Warn("roblox security cookie not configured; group rank writes will fail")
	}

	bot, err := discord.NewBot(discord.Config{
		Token:         appConfig.Discord.Token,
		ApplicationID: appConfig.Discord.ApplicationID,
		GuildID:       appConfig.Discord.GuildID,
		StaffRoleID:   appConfig.Discord.StaffRoleID,
		Channels: discord.Channels{
			ProgressLog:      appConfig.Discord.ProgressLogChannel,
			EventLog:         appConfig.Discord.EventLogChannel,
			EventProgressLog: appConfig.Discord.EventProgressChannel,
			DeletionReports:  appConfig.Discord.DeletionReportChannel,
		},
		Completions: map[progression.CompletionTarget]discord.CompletionRoute{
			progression.CompletionConscript:     completionRoute(appConfig.Discord.ConscriptCompletion),
			progression.CompletionTrooper:       completionRoute(appConfig.Discord.TrooperCompletion),
			progression.CompletionSeniorTrooper: completionRoute(appConfig.Discord.SeniorCompletion),
		},
		RequestTimeout: appConfig.Discord.RequestTimeout,
		Logger:         logger.Named("discord"),
	})
	if err != nil {
		return err
	}

	batcher, err := reports.NewBatcher(reports.Config{
		Sinks:         []reports.Sink{bot, activity},
		Capacity:      appConfig.Reports.Capacity,
		BatchSize:     appConfig.Reports.BatchSize,
		FlushInterval: appConfig.Reports.FlushInterval,
		Recorder:      collectors,
		Logger:        logger.Named("reports"),
	})
	if err != nil {
		return err
	}

	notifier, err := notify.NewController(notify.Config{
		Flags:     store,
		Announcer: notify.Announcers{bot, activity},
		Avatars:   robloxClient,
		Recorder:  collectors,
		Logger:    logger.Named("notify"),
	})
	if err != nil {
		return err
	}

	progress, err := tracker.NewService(tracker.Config{
		Store:    store,
		Groups:   robloxClient,
		Notifier: notifier,
		Reports:  batcher,
		Logger:   logger.Named("tracker"),
	})
	if err != nil {
		return err
	}

	ranks, err := promotion.NewService(promotion.Config{
		Store:    store,
		Group:    robloxClient,
		Members:  bot,
		Roles:    roleMap(appConfig.Roles),
		Recorder: collectors,
		Logger:   logger.Named("promotion"),
	})
	if err != nil {
		return err
	}

	verifier, err := verification.NewService(verification.Config{
		Store:    store,
		Accounts: robloxClient,
		Roles:    ranks,
		Tracker:  progress,
		Logger:   logger.Named("verification"),
	})
	if err != nil {
		return err
	}

	engine, err := attendance.NewEngine(attendance.Config{
		Presenter:     bot,
		Directory:     bot,
		Crediter:      progress,
		Observers:     []attendance.Observer{activity},
		Recorder:      collectors,
		CollectWindow: appConfig.Attendance.CollectWindow,
		SearchTTL:     appConfig.Attendance.SearchTTL,
		SelectionTTL:  appConfig.Attendance.SelectionTTL,
		ReviewTTL:     appConfig.Attendance.ReviewTTL,
		Logger:        logger.Named("attendance"),
	})
	if err != nil {
		return err
	}

	bot.Bind(discord.Handlers{
		Progress:     progress,
		Ranks:        ranks,
		Verification: verifier,
		Attendance:   engine,
		Avatars:      robloxClient,
	})

	var httpServer *http.Server
	if appConfig.APIEnabled() {
		httpServer, err = newHTTPServer(appConfig, store, progress, engine, activity, collectors, logger)
		if err != nil {
			return err
		}
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batcher.Start()
	if err := bot.Open(signalCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownTimeout)
		defer cancel()
		_ = batcher.Stop(shutdownCtx)
		return err
	}
	logger.Info("bot started", zap.String("guild_id", appConfig.Discord.GuildID))

	group, groupCtx := errgroup.WithContext(signalCtx)
	if httpServer != nil {
		group.Go(func() error {
			logger.Info("operations api starting", zap.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownTimeout)
		defer cancel()

		var errs []error
		if httpServer != nil {
			errs = append(errs, httpServer.Shutdown(shutdownCtx))
		}
		errs = append(errs,
			bot.Close(shutdownCtx),
			engine.Shutdown(shutdownCtx),
			batcher.Stop(shutdownCtx),
		)
		return errors.Join(errs...)
	})
	return group.Wait()
}

func newHTTPServer(
	appConfig config.AppConfig,
	store *records.Store,
	progress *tracker.Service,
	engine *attendance.Engine,
	activity *server.ActivityDispatcher,
	collectors *metrics.Collectors,
	logger *zap.Logger,
) (*http.Server, error) {
	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(appConfig.Auth.SigningSecret),
		Issuer:        appConfig.Auth.Issuer,
		Audience:      appConfig.Auth.Audience,
	})
	if err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         validator,
		Members:        store,
		Progress:       progress,
		Sessions:       engine,
		Activity:       activity,
		Metrics:        collectors.Registry(),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger.Named("server"),
	})
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func roleMap(roles config.RoleConfig) promotion.RoleMap {
	ranks := map[progression.Rank]string{
		progression.RankConscript:     roles.Conscript,
		progression.RankTrooper:       roles.Trooper,
		progression.RankSeniorTrooper: roles.SeniorTrooper,
	}
	if roles.CommissariatPathway != "" {
		ranks[progression.RankCommissariatPathway] = roles.CommissariatPathway
	}
	return promotion.RoleMap{Verified: roles.Verified, Ranks: ranks}
}

func completionRoute(route config.CompletionRoute) discord.CompletionRoute {
	return discord.CompletionRoute{ChannelID: route.ChannelID, PingRoleID: route.PingRoleID}
}
