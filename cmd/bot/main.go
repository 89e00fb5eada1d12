// Package main is the entry point for the forum community bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"telegram-forum-bot/internal/bot"
	"telegram-forum-bot/internal/config"
	"telegram-forum-bot/internal/flood"
	"telegram-forum-bot/internal/game/blackjack"
	"telegram-forum-bot/internal/handler"
	"telegram-forum-bot/internal/metrics"
	"telegram-forum-bot/internal/moderation"
	"telegram-forum-bot/internal/pkg/db"
	"telegram-forum-bot/internal/repository"
	"telegram-forum-bot/internal/scheduler"
	"telegram-forum-bot/internal/stats"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Repositories.
	userRepo := repository.NewUserRepository(dbPool.Pool, cfg.Game.InitialCoins)
	moderationRepo := repository.NewModerationRepository(dbPool.Pool)
	statsRepo := repository.NewStatsRepository(dbPool.Pool)
	settlementRepo := repository.NewSettlementRepository(dbPool.Pool)

	// Tables live in memory, so wagers escrowed before a restart have no
	// table left. Refund them before accepting new joins.
	refunded, err := settlementRepo.ReleaseAbandonedEscrow(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to release abandoned escrow")
	}
	if refunded > 0 {
		log.Info().Int("reservations", refunded).Msg("Refunded escrow left over from previous run")
	}

	// Engines.
	wordlist, err := moderation.LoadWordlist(cfg.Moderation.WordlistPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Moderation.WordlistPath).Msg("Failed to load word list")
	}
	detector := moderation.NewDetector(wordlist, cfg.Moderation.AllowedDomains)

	guard := flood.NewGuard(flood.Config{
		Window:        cfg.Flood.Window,
		WarnThreshold: cfg.Flood.WarnThreshold,
		Threshold:     cfg.Flood.Threshold,
	})

	modEngine := moderation.NewEngine(moderationRepo, moderation.Config{
		MuteThreshold:   cfg.Moderation.MuteThreshold,
		BanThreshold:    cfg.Moderation.BanThreshold,
		MuteDuration:    cfg.Moderation.MuteDuration,
		StrikeTTL:       cfg.Moderation.StrikeTTL,
		FloodMute:       cfg.Moderation.FloodMute,
		FloodMuteRepeat: cfg.Moderation.FloodMuteRepeat,
	}, time.Now)

	gameEngine := blackjack.NewEngine(
		repository.NewGameStore(userRepo, settlementRepo),
		blackjack.Config{
			JoinWindow:   cfg.Game.JoinWindow,
			TurnDeadline: cfg.Game.TurnDeadline,
			MinWager:     cfg.Game.MinWager,
			MaxWager:     cfg.Game.MaxWager,
		},
		time.Now,
	)

	aggregator := stats.NewAggregator(statsRepo, time.Now)
	if err := seedStats(ctx, statsRepo, aggregator, cfg.Bot.ForumChatID); err != nil {
		log.Warn().Err(err).Msg("Failed to preload topic stats")
	}

	m := metrics.New()
	gameEngine.SetRetryObserver(m.SettlementRetries.Inc)

	// Telegram wiring.
	teleBot, err := bot.NewTelebot(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}
	messenger := bot.NewMessenger(teleBot)

	formsHandler := handler.NewFormsHandler(cfg, messenger, time.Now)
	moderationHandler := handler.NewModerationHandler(cfg, detector, guard, modEngine, aggregator, formsHandler, messenger, m)
	adminHandler := handler.NewAdminHandler(cfg, modEngine, userRepo, aggregator, messenger, m)
	gameHandler := handler.NewGameHandler(cfg, gameEngine, userRepo, modEngine, messenger, m)
	statsHandler := handler.NewStatsHandler(cfg, aggregator, statsRepo, messenger)

	telegramBot := bot.New(teleBot, messenger, &bot.Dependencies{
		Config:     cfg,
		Moderation: moderationHandler,
		Admin:      adminHandler,
		Game:       gameHandler,
		Stats:      statsHandler,
		Forms:      formsHandler,
	})

	dispatcher := scheduler.NewDispatcher(gameEngine, aggregator, gameHandler, statsHandler, m, scheduler.Intervals{
		GameSweep:    cfg.Game.SweepInterval,
		StatsFlush:   cfg.Stats.FlushInterval,
		Leaderboard:  cfg.Stats.LeaderboardInterval,
		DailySummary: cfg.Stats.SummaryInterval,
		Heartbeat:    cfg.Stats.HeartbeatInterval,
	}, time.Now)

	metricsServer := metrics.NewServer(m, cfg.Metrics.ListenAddr, 3*cfg.Stats.HeartbeatInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		telegramBot.Start()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		telegramBot.Stop()
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		return metricsServer.Run(ctx)
	})

	log.Info().Msg("Bot is running")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Bot exited with error")
	}

	// Push out whatever the aggregator still holds.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := aggregator.Flush(flushCtx); err != nil {
		log.Warn().Err(err).Msg("Final stats flush failed")
	}
	log.Info().Msg("Bot stopped gracefully")
}

// seedStats preloads lifetime topic totals so /stats survives a restart.
func seedStats(ctx context.Context, repo *repository.StatsRepository, aggregator *stats.Aggregator, chatID int64) error {
	totals, err := repo.TopicTotals(ctx, chatID)
	if err != nil {
		return err
	}
	for _, s := range totals {
		aggregator.Seed(s.ChatID, s.TopicID, s.Messages, s.LastActive, s.LastMessage)
	}
	log.Info().Int("topics", len(totals)).Msg("Topic stats preloaded")
	return nil
}
