package handler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"uticoins/internal/service"
	"uticoins/internal/streak"
)

// AdminHandler handles maintenance commands. Routes are guarded by
// bot.AdminMiddleware.
type AdminHandler struct {
	rewards  *service.RewardService
	accounts *service.AccountService
	retain   int
}

// NewAdminHandler creates a new AdminHandler. retentionDays is the default
// for /admin_prune.
func NewAdminHandler(rewards *service.RewardService, accounts *service.AccountService, retentionDays int) *AdminHandler {
	return &AdminHandler{rewards: rewards, accounts: accounts, retain: retentionDays}
}

// HandleRollover handles /admin_rollover. It runs the rollover job now.
func (h *AdminHandler) HandleRollover(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return c.Reply(h.rollover(ctx, sender.ID))
}

func (h *AdminHandler) rollover(ctx context.Context, adminID int64) string {
	code, reset, err := h.rewards.Rollover(ctx)
	if err != nil {
		log.Error().Err(err).Int64("admin_id", adminID).Msg("Admin rollover failed")
		return "❌ Rollover failed"
	}
	log.Info().
		Int64("admin_id", adminID).
		Str("code_date", code.Date.Format(time.DateOnly)).
		Int64("streaks_reset", reset).
		Str("operation", "admin_rollover").
		Msg("Admin operation executed")
	return fmt.Sprintf("✅ Rollover done\n📅 Code date: %s\n🔄 Streaks reset: %d", code.Date.Format(time.DateOnly), reset)
}

// HandlePrune handles /admin_prune [days].
func (h *AdminHandler) HandlePrune(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return c.Reply(h.prune(ctx, sender.ID, c.Args()))
}

func (h *AdminHandler) prune(ctx context.Context, adminID int64, args []string) string {
	days := h.retain
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "❌ Usage: /admin_prune [days]"
		}
		days = n
	}
	n, err := h.rewards.Prune(ctx, days)
	if err != nil {
		log.Error().Err(err).Int64("admin_id", adminID).Msg("Admin prune failed")
		return "❌ Prune failed"
	}
	log.Info().
		Int64("admin_id", adminID).
		Int("retention_days", days).
		Int64("deleted", n).
		Str("operation", "admin_prune").
		Msg("Admin operation executed")
	return fmt.Sprintf("✅ Deleted %d claim record(s) older than %d day(s)", n, days)
}

// HandleUser handles /admin_user <user_id>.
func (h *AdminHandler) HandleUser(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.Reply(h.user(ctx, c.Args()))
}

func (h *AdminHandler) user(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "❌ Usage: /admin_user <user_id>"
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID == 0 {
		return "❌ Invalid user ID"
	}

	b, err := h.accounts.GetBalance(ctx, userID, 1)
	if err != nil {
		return errorText(userID, err)
	}
	st, err := h.accounts.GetStreak(ctx, userID)
	if err != nil {
		return errorText(userID, err)
	}

	last := "never"
	if st.LastClaimDate != nil {
		last = st.LastClaimDate.Format(time.DateOnly)
	}
	msg := fmt.Sprintf("👤 User %d\n"+
		"━━━━━━━━━━━━━━━\n"+
		"💰 Balance: %d\n"+
		"🔥 Streak: %d (longest %d)\n"+
		"🧾 Claims: %d\n"+
		"📅 Last claim: %s",
		userID, b.Balance, st.StreakCount, st.LongestStreak, st.TotalClaims, last)
	if st.StreakCount > 0 && st.LastClaimDate != nil && streak.Broken(*st.LastClaimDate, h.rewards.Today()) {
		msg += "\n⚠️ Streak lapsed, resets at next rollover"
	}
	return msg
}
