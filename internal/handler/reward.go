// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"uticoins/internal/dailycode"
	"uticoins/internal/model"
	"uticoins/internal/service"
)

const requestTimeout = 10 * time.Second

// RewardHandler handles the daily code commands.
type RewardHandler struct {
	rewards  *service.RewardService
	accounts *service.AccountService
}

// NewRewardHandler creates a new RewardHandler.
func NewRewardHandler(rewards *service.RewardService, accounts *service.AccountService) *RewardHandler {
	return &RewardHandler{rewards: rewards, accounts: accounts}
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// HandleStart handles /start. It registers the user and shows today's code.
func (h *RewardHandler) HandleStart(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.Reply(h.start(ctx, sender.ID, displayName(sender)))
}

func (h *RewardHandler) start(ctx context.Context, userID int64, username string) string {
	if _, err := h.accounts.EnsureUser(ctx, userID, username); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to ensure user")
		return "❌ Could not open your account, please try again later"
	}
	return fmt.Sprintf("👋 Welcome @%s!\n\n"+
		"A new UTI Coins code is released every day at %02d:00 (Brasília time).\n"+
		"Claim it every day to grow your streak.\n\n"+
		"/code - today's code and your next reward\n"+
		"/claim <code> - claim today's code\n"+
		"/balance - your coins\n"+
		"/streak - your streak",
		username, h.rewards.Calendar().RolloverHour)
}

// HandleCode handles /code.
func (h *RewardHandler) HandleCode(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.Reply(h.code(ctx, sender.ID))
}

func (h *RewardHandler) code(ctx context.Context, userID int64) string {
	state, err := h.rewards.CurrentCodeState(ctx, userID)
	if err != nil {
		return errorText(userID, err)
	}
	return FormatCodeState(state)
}

// HandleClaim handles /claim <code>.
func (h *RewardHandler) HandleClaim(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.Reply(h.claim(ctx, sender.ID, displayName(sender), c.Args()))
}

func (h *RewardHandler) claim(ctx context.Context, userID int64, username string, args []string) string {
	if len(args) != 1 {
		return "❌ Usage: /claim <code>"
	}
	if _, err := h.accounts.EnsureUser(ctx, userID, username); err != nil {
		return errorText(userID, err)
	}
	res, err := h.rewards.Claim(ctx, userID, args[0])
	if err != nil {
		return errorText(userID, err)
	}
	return FormatClaimResult(res, h.rewards.Curve().CycleLength)
}

// HandleBalance handles /balance.
func (h *RewardHandler) HandleBalance(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.Reply(h.balance(ctx, sender.ID))
}

func (h *RewardHandler) balance(ctx context.Context, userID int64) string {
	b, err := h.accounts.GetBalance(ctx, userID, 5)
	if err != nil {
		return errorText(userID, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 Balance: %d UTI Coins", b.Balance)
	if len(b.Transactions) > 0 {
		sb.WriteString("\n━━━━━━━━━━━━━━━")
		for _, tx := range b.Transactions {
			desc := tx.Type
			if tx.Description != nil {
				desc = *tx.Description
			}
			fmt.Fprintf(&sb, "\n%+d  %s", tx.Amount, desc)
		}
	}
	return sb.String()
}

// HandleStreak handles /streak.
func (h *RewardHandler) HandleStreak(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.Reply(h.streak(ctx, sender.ID))
}

func (h *RewardHandler) streak(ctx context.Context, userID int64) string {
	state, err := h.rewards.CurrentCodeState(ctx, userID)
	if err != nil {
		return errorText(userID, err)
	}
	cycle := h.rewards.Curve().Table()

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔥 Streak: %d day(s)\n🏆 Longest: %d day(s)\n", state.CurrentStreak, state.LongestStreak)
	sb.WriteString("━━━━━━━━━━━━━━━\n")
	for i, amount := range cycle {
		marker := "▫️"
		if i+1 == state.NextRewardPosition {
			marker = "👉"
		}
		fmt.Fprintf(&sb, "%s Day %d: %d\n", marker, i+1, amount)
	}
	sb.WriteString("━━━━━━━━━━━━━━━")
	return sb.String()
}

// FormatCodeState renders a code state for chat.
func FormatCodeState(s *model.CodeState) string {
	wait := (time.Duration(s.SecondsUntilNextCode) * time.Second).String()

	var sb strings.Builder
	switch dailycode.State(s.State) {
	case dailycode.StateClaimable:
		fmt.Fprintf(&sb, "🎟 Today's code: %s\n", s.Code)
		fmt.Fprintf(&sb, "🎁 Claim now for %d coins (day %d)", s.NextRewardAmount, s.NextRewardPosition)
		if s.Multiplier != 1 && s.Multiplier != 0 {
			fmt.Fprintf(&sb, " ✨ x%g", s.Multiplier)
		}
		fmt.Fprintf(&sb, "\n⏳ Claim before %s", s.ClaimDeadline.UTC().Format("15:04 UTC"))
	case dailycode.StateClaimed:
		if s.Claimed != nil {
			fmt.Fprintf(&sb, "✅ Claimed today: +%d coins\n", s.Claimed.AmountAwarded)
		} else {
			sb.WriteString("✅ Claimed today\n")
		}
		fmt.Fprintf(&sb, "⏰ Next code in %s (%d coins)", wait, s.NextRewardAmount)
	case dailycode.StateStreakOnly:
		sb.WriteString("⌛ Today's claim window has closed\n")
		fmt.Fprintf(&sb, "⏰ Next code in %s (%d coins)", wait, s.NextRewardAmount)
	default:
		sb.WriteString("⌛ No code available right now\n")
		fmt.Fprintf(&sb, "⏰ Next code in %s", wait)
	}
	fmt.Fprintf(&sb, "\n🔥 Streak: %d  💰 Balance: %d", s.CurrentStreak, s.Balance)
	return sb.String()
}

// FormatClaimResult renders a claim result for chat.
func FormatClaimResult(r *model.ClaimResult, cycleLength int) string {
	if r.Replayed {
		return fmt.Sprintf("ℹ️ Already claimed today: +%d coins\n💰 Balance: %d", r.AmountAwarded, r.Balance)
	}
	msg := fmt.Sprintf("✅ +%d UTI Coins!\n🔥 Streak: %d (day %d of %d)\n💰 Balance: %d",
		r.AmountAwarded, r.NewStreakCount, r.StreakPositionAfterClaim, cycleLength, r.Balance)
	if r.MultiplierApplied != 1 && r.MultiplierApplied != 0 {
		msg += fmt.Sprintf("\n✨ Promotion x%g applied", r.MultiplierApplied)
	}
	return msg
}

// errorText maps an error to a chat reply and logs unexpected ones.
func errorText(userID int64, err error) string {
	var claimErr *model.ClaimError
	if errors.As(err, &claimErr) {
		switch claimErr.Kind {
		case model.ClaimCodeMismatch:
			return "❌ That is not today's code. Use /code to see it."
		case model.ClaimNotClaimable:
			return "⌛ Today's code can no longer be claimed. Come back for the next one!"
		case model.ClaimUnauthenticated:
			return "❌ Could not identify you"
		case model.ClaimNetworkTimeout:
			return "⏳ The request timed out. Check /code before trying again."
		}
	}
	log.Error().Err(err).Int64("user_id", userID).Msg("Command failed")
	return "❌ Something went wrong, please try again later"
}
