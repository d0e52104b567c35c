// Command coinctl drives the countdown controller against a ledger server.
//
//	coinctl watch            follow the countdown and claim on demand (press Enter)
//	coinctl claim            claim today's code once
//	coinctl token -user 42   issue a bearer token with the server secret
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"uticoins/internal/auth"
	"uticoins/internal/client"
	"uticoins/internal/config"
	"uticoins/internal/countdown"
	"uticoins/internal/model"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "watch":
		err = runWatch(ctx, cfg, os.Args[2:])
	case "claim":
		err = runClaim(ctx, cfg, os.Args[2:])
	case "token":
		err = runToken(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg(os.Args[1] + " failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: coinctl <watch|claim|token> [flags]")
}

// clientFlags registers the connection flags shared by watch and claim.
func clientFlags(fs *flag.FlagSet, cfg *config.Config) (baseURL, token *string) {
	baseURL = fs.String("url", cfg.Client.BaseURL, "ledger base URL")
	token = fs.String("token", cfg.Client.Token, "bearer token")
	return baseURL, token
}

func newClient(baseURL, token string) (*client.Client, error) {
	if token == "" {
		return nil, errors.New("a bearer token is required (-token or client.token)")
	}
	return client.New(baseURL, token)
}

func controllerConfig(cfg *config.Config) countdown.Config {
	return countdown.Config{
		Tick:           cfg.Client.Tick,
		ResyncInterval: cfg.Client.ResyncInterval,
		ClaimTimeout:   cfg.Client.ClaimTimeout,
		RequestTimeout: cfg.Client.RequestTimeout,
	}
}

// printer renders controller events on stdout.
type printer struct {
	last countdown.State
}

func (p *printer) OnSnapshot(s countdown.Snapshot) {
	if s.LastError != "" {
		fmt.Printf("\r%-60s", "sync error: "+s.LastError)
		return
	}
	if s.State != p.last && s.State == countdown.StateReady {
		fmt.Println()
		fmt.Printf("Code is ready: %d coins (day %d, x%.1f). Press Enter to claim.\n",
			s.NextRewardAmount, s.NextRewardPosition, s.Multiplier)
	}
	p.last = s.State
	fmt.Printf("\r%-60s", s.String())
}

func (p *printer) OnClaimOutcome(o countdown.Outcome) {
	fmt.Println()
	if o.Err != nil {
		fmt.Println("claim failed:", o.Err)
		return
	}
	printResult(o.Result)
}

func printResult(r *model.ClaimResult) {
	if r.Replayed {
		fmt.Printf("Already claimed for %s: %d coins, streak %d, balance %d\n",
			r.CodeDate.Format(time.DateOnly), r.AmountAwarded, r.NewStreakCount, r.Balance)
		return
	}
	fmt.Printf("Claimed %d coins (day %d, x%.1f). Streak %d, balance %d\n",
		r.AmountAwarded, r.StreakPositionAfterClaim, r.MultiplierApplied, r.NewStreakCount, r.Balance)
}

func runWatch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	baseURL, token := clientFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := newClient(*baseURL, *token)
	if err != nil {
		return err
	}
	ctrl := countdown.New(c, controllerConfig(cfg), &printer{})

	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			switch err := ctrl.Claim(ctx); {
			case err == nil:
			case errors.Is(err, countdown.ErrNotReady):
				fmt.Println("\nnot ready yet")
			case errors.Is(err, countdown.ErrClaimInFlight):
				fmt.Println("\nclaim already in flight")
			default:
				return
			}
		}
	}()

	err = ctrl.Run(ctx)
	fmt.Println()
	return err
}

// runClaim reads the state, claims if allowed, and after an unknown outcome
// re-reads before trying once more.
func runClaim(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	baseURL, token := clientFlags(fs, cfg)
	attempts := fs.Int("attempts", 2, "claim attempts after a network timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := newClient(*baseURL, *token)
	if err != nil {
		return err
	}
	claimTimeout := cfg.Client.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = countdown.DefaultClaimTimeout
	}

	for i := 0; i < max(*attempts, 1); i++ {
		state, err := c.CodeState(ctx)
		if err != nil {
			return fmt.Errorf("failed to read code state: %w", err)
		}
		if state.Claimed != nil {
			res := *state.Claimed
			res.Replayed = true
			printResult(&res)
			return nil
		}
		if !state.CanClaim {
			wait := time.Duration(state.SecondsUntilNextCode) * time.Second
			fmt.Printf("Nothing to claim (%s). Next code in %s.\n", state.State, wait)
			return nil
		}

		claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
		res, err := c.Claim(claimCtx, state.Code)
		cancel()
		if err == nil {
			printResult(res)
			return nil
		}
		if !errors.Is(err, model.ErrNetworkTimeout) {
			return err
		}
		log.Warn().Int("attempt", i+1).Msg("Claim outcome unknown, resyncing")
	}
	return model.ErrNetworkTimeout
}

func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id")
	username := fs.String("name", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID <= 0 {
		return errors.New("-user must be positive")
	}

	signer, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	tok, err := signer.Issue(*userID, *username)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
