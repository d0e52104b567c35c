package bot

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"uticoins/internal/config"
)

// Access decides which chats the bot answers. Group chats must be on the
// whitelist; a private chat is answered once its user has been seen in a
// whitelisted group, or always when the whitelist is empty.
type Access struct {
	cfg *config.Config

	mu      sync.RWMutex
	private map[int64]bool
}

// NewAccess creates an Access for cfg.
func NewAccess(cfg *config.Config) *Access {
	return &Access{cfg: cfg, private: make(map[int64]bool)}
}

// AllowPrivateUser marks a user as allowed to use private chat.
func (a *Access) AllowPrivateUser(userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.private[userID] = true
}

// IsPrivateUserAllowed checks if a user is allowed to use private chat.
func (a *Access) IsPrivateUserAllowed(userID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.private[userID]
}

// Allow reports whether a message from userID in chatID should be handled,
// remembering users seen in whitelisted groups.
func (a *Access) Allow(chatID int64, private bool, userID int64) bool {
	if private {
		return len(a.cfg.Bot.Whitelist) == 0 || a.IsPrivateUserAllowed(userID)
	}
	if !a.cfg.IsChatAllowed(chatID) {
		return false
	}
	a.AllowPrivateUser(userID)
	return true
}

// WhitelistMiddleware drops updates from chats Access rejects.
func WhitelistMiddleware(a *Access) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			sender := c.Sender()
			if chat == nil || sender == nil {
				return nil
			}

			if !a.Allow(chat.ID, chat.Type == tele.ChatPrivate, sender.ID) {
				log.Debug().
					Int64("chat_id", chat.ID).
					Int64("user_id", sender.ID).
					Msg("Ignoring message from non-whitelisted chat")
				return nil
			}
			return next(c)
		}
	}
}

// AdminMiddleware rejects commands from users that are not admins.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}

			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Non-admin attempted admin command")
				return c.Reply("❌ Admins only")
			}

			return next(c)
		}
	}
}

// command returns the command word of a message without its arguments, so
// submitted codes never reach the logs.
func command(text string) string {
	if cmd, _, found := strings.Cut(text, " "); found {
		return cmd
	}
	return text
}

// LoggingMiddleware logs each handled update with its duration and error.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			start := time.Now()
			err := next(c)

			ev := log.Debug()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			if sender := c.Sender(); sender != nil {
				ev = ev.Int64("user_id", sender.ID)
			}
			if chat := c.Chat(); chat != nil {
				ev = ev.Int64("chat_id", chat.ID).Str("chat_type", string(chat.Type))
			}
			ev.Str("command", command(c.Text())).
				Dur("duration", time.Since(start)).
				Msg("Handled update")
			return err
		}
	}
}

// RecoveryMiddleware turns a handler panic into an error reply.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				ev := log.Error().Interface("panic", r).Str("command", command(c.Text()))
				if sender := c.Sender(); sender != nil {
					ev = ev.Int64("user_id", sender.ID)
				}
				ev.Msg("Recovered from panic in bot handler")
				err = c.Reply("❌ Something went wrong, please try again.")
			}()
			return next(c)
		}
	}
}
