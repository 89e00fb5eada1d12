// Package bot provides the Telegram bot initialization and handler
// registration.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/config"
	"telegram-forum-bot/internal/handler"
)

// Bot wraps the telebot instance with the application handlers.
type Bot struct {
	bot       *tele.Bot
	cfg       *config.Config
	messenger *Messenger

	moderationHandler *handler.ModerationHandler
	adminHandler      *handler.AdminHandler
	gameHandler       *handler.GameHandler
	statsHandler      *handler.StatsHandler
	formsHandler      *handler.FormsHandler
}

// Dependencies holds the handlers the bot routes to. The handlers are built
// in main once the messenger exists, so construction happens in two steps:
// NewTelebot first, then New with the wired handlers.
type Dependencies struct {
	Config     *config.Config
	Moderation *handler.ModerationHandler
	Admin      *handler.AdminHandler
	Game       *handler.GameHandler
	Stats      *handler.StatsHandler
	Forms      *handler.FormsHandler
}

// NewTelebot creates the underlying telebot instance.
func NewTelebot(cfg *config.Config) (*tele.Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return teleBot, nil
}

// New assembles the bot over an existing telebot instance and registers all
// routes.
func New(teleBot *tele.Bot, messenger *Messenger, deps *Dependencies) *Bot {
	b := &Bot{
		bot:               teleBot,
		cfg:               deps.Config,
		messenger:         messenger,
		moderationHandler: deps.Moderation,
		adminHandler:      deps.Admin,
		gameHandler:       deps.Game,
		statsHandler:      deps.Stats,
		formsHandler:      deps.Forms,
	}
	b.registerMiddleware()
	b.registerHandlers()
	return b
}

func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(ForumMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
}

func (b *Bot) registerHandlers() {
	// Public commands.
	b.bot.Handle("/rules", b.moderationHandler.HandleRules)
	b.bot.Handle("/21", b.gameHandler.HandleOpen)
	b.bot.Handle("/score", b.gameHandler.HandleScore)
	b.bot.Handle("/21top", b.gameHandler.HandleTop)
	b.bot.Handle("/stats", b.statsHandler.HandleStats)

	// Admin commands.
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/strike", b.adminHandler.HandleStrike)
	adminGroup.Handle("/mute", b.adminHandler.HandleMute)
	adminGroup.Handle("/ban", b.adminHandler.HandleBan)
	adminGroup.Handle("/unrestrict", b.adminHandler.HandleUnrestrict)
	adminGroup.Handle("/unstrike", b.adminHandler.HandleUnstrike)
	adminGroup.Handle("/addcoins", b.adminHandler.HandleAddCoins)
	adminGroup.Handle("/resetstats", b.adminHandler.HandleResetStats)
	adminGroup.Handle("/cancel", b.gameHandler.HandleCancel)
	adminGroup.Handle("/form", b.formsHandler.HandleGateForm)

	// Inline game buttons.
	b.bot.Handle(tele.OnCallback, b.handleCallback)

	// The free-text pipeline runs on everything the commands above did not
	// consume, edits included.
	b.bot.Handle(tele.OnText, b.moderationHandler.HandleMessage)
	b.bot.Handle(tele.OnEdited, b.moderationHandler.HandleMessage)
}

func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}
	data := strings.TrimPrefix(callback.Data, "\f")
	if strings.HasPrefix(data, "bj_") {
		return b.gameHandler.HandleCallback(c)
	}
	return c.Respond(&tele.CallbackResponse{})
}

// Start starts long polling. Blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Int64("forum_chat_id", b.cfg.Bot.ForumChatID).Msg("Starting bot")
	b.bot.Start()
}

// Stop stops the poller gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot")
	b.bot.Stop()
}
