// Package bot serves the daily code commands over Telegram.
package bot

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"uticoins/internal/config"
	"uticoins/internal/handler"
	"uticoins/internal/service"
)

// ErrNoToken is returned by New when the bot is not configured.
var ErrNoToken = errors.New("bot token is required")

// Bot is a long-polling Telegram front end for the reward service.
type Bot struct {
	tb     *tele.Bot
	cfg    *config.Config
	access *Access

	commands []botCommand
}

// Dependencies are the services the commands call.
type Dependencies struct {
	Config   *config.Config
	Rewards  *service.RewardService
	Accounts *service.AccountService
}

// botCommand binds a slash command to its handler. Admin commands are not
// advertised in the menu.
type botCommand struct {
	text        string
	description string
	admin       bool
	handle      tele.HandlerFunc
}

// commandTable lists every command the bot answers.
func commandTable(rh *handler.RewardHandler, ah *handler.AdminHandler) []botCommand {
	return []botCommand{
		{text: "/start", description: "How UTI Coins work", handle: rh.HandleStart},
		{text: "/code", description: "Today's code and your next reward", handle: rh.HandleCode},
		{text: "/claim", description: "Claim today's coins: /claim <code>", handle: rh.HandleClaim},
		{text: "/balance", description: "Your balance and recent rewards", handle: rh.HandleBalance},
		{text: "/streak", description: "Your current and longest streak", handle: rh.HandleStreak},

		{text: "/admin_rollover", admin: true, handle: ah.HandleRollover},
		{text: "/admin_prune", admin: true, handle: ah.HandlePrune},
		{text: "/admin_user", admin: true, handle: ah.HandleUser},
	}
}

// menu returns the commands shown in Telegram's command list.
func menu(cmds []botCommand) []tele.Command {
	var out []tele.Command
	for _, c := range cmds {
		if c.admin {
			continue
		}
		out = append(out, tele.Command{Text: c.text[1:], Description: c.description})
	}
	return out
}

// New connects to Telegram and registers the commands. It fails with
// ErrNoToken when no token is configured.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, ErrNoToken
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			ev := log.Error().Err(err)
			if c != nil && c.Sender() != nil {
				ev = ev.Int64("user_id", c.Sender().ID)
			}
			ev.Msg("Bot handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect bot: %w", err)
	}

	b := &Bot{
		tb:     tb,
		cfg:    deps.Config,
		access: NewAccess(deps.Config),
		commands: commandTable(
			handler.NewRewardHandler(deps.Rewards, deps.Accounts),
			handler.NewAdminHandler(deps.Rewards, deps.Accounts, deps.Config.Jobs.RetentionDays),
		),
	}
	b.register()
	return b, nil
}

// register installs middleware and handlers. Recovery runs outermost so a
// panic in any later layer still gets a reply.
func (b *Bot) register() {
	b.tb.Use(RecoveryMiddleware(), WhitelistMiddleware(b.access), LoggingMiddleware())

	admin := b.tb.Group()
	admin.Use(AdminMiddleware(b.cfg))
	for _, c := range b.commands {
		if c.admin {
			admin.Handle(c.text, c.handle)
		} else {
			b.tb.Handle(c.text, c.handle)
		}
	}
}

// Start publishes the command menu and polls until Stop.
func (b *Bot) Start() {
	if err := b.tb.SetCommands(menu(b.commands)); err != nil {
		log.Warn().Err(err).Msg("Failed to publish bot command menu")
	}
	log.Info().Str("username", b.tb.Me.Username).Msg("Bot polling started")
	b.tb.Start()
}

// Stop ends polling.
func (b *Bot) Stop() {
	b.tb.Stop()
	log.Info().Msg("Bot stopped")
}
