// Package countdown keeps a client's view of the daily code in step with the
// ledger: a cosmetic countdown ticks locally, while claim permission always
// comes from the server.
package countdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"uticoins/internal/model"
)

// State is the controller's lifecycle state.
type State string

const (
	// StateWaiting means no code is claimable; the countdown shows the time
	// to the next issuance.
	StateWaiting State = "WAITING"
	// StateReady means the last resync reported a claimable code.
	StateReady State = "READY"
)

var (
	// ErrNotReady rejects a claim while the controller is WAITING.
	ErrNotReady = errors.New("no claimable code")
	// ErrClaimInFlight rejects a claim while a previous one has not been
	// resolved by a resync.
	ErrClaimInFlight = errors.New("claim already in flight")
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("controller stopped")
)

// Default timings.
const (
	DefaultTick           = time.Second
	DefaultResyncInterval = 30 * time.Second
	DefaultClaimTimeout   = 10 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Backend is the ledger contract the controller consumes.
type Backend interface {
	CodeState(ctx context.Context) (*model.CodeState, error)
	Claim(ctx context.Context, code string) (*model.ClaimResult, error)
}

// Config holds the controller timings. Zero values use the defaults.
type Config struct {
	Tick           time.Duration
	ResyncInterval time.Duration
	ClaimTimeout   time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = DefaultResyncInterval
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = DefaultClaimTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Snapshot is what the UI renders.
type Snapshot struct {
	State              State
	Countdown          int64 // seconds, cosmetic
	CodeDate           time.Time
	ServerState        string
	NextRewardAmount   int64
	NextRewardPosition int
	Multiplier         float64
	Streak             int
	Balance            int64
	ClaimInFlight      bool
	CanClaim           bool
	Synced             bool
	LastSync           time.Time
	LastError          string
}

// Outcome is the result of one claim.
type Outcome struct {
	Result *model.ClaimResult
	Err    error
}

// Listener receives controller events on the controller's goroutine.
type Listener interface {
	OnSnapshot(Snapshot)
	OnClaimOutcome(Outcome)
}

type syncResult struct {
	epoch int
	state *model.CodeState
	err   error
}

type claimResult struct {
	res *model.ClaimResult
	err error
}

// Controller is the countdown/resync state machine. All state is owned by
// the goroutine running Run.
type Controller struct {
	backend  Backend
	cfg      Config
	listener Listener

	claimReq  chan chan error
	resyncReq chan struct{}

	mu        sync.RWMutex
	published Snapshot
	done      chan struct{}
	started   bool

	// loop state
	snap          Snapshot
	code          string
	epoch         int
	syncing       bool
	resyncPending bool
	claiming      bool
	unresolved    bool
}

// New creates a Controller. listener may be nil.
func New(backend Backend, cfg Config, listener Listener) *Controller {
	return &Controller{
		backend:   backend,
		cfg:       cfg.withDefaults(),
		listener:  listener,
		claimReq:  make(chan chan error),
		resyncReq: make(chan struct{}, 1),
		done:      make(chan struct{}),
		snap:      Snapshot{State: StateWaiting},
		published: Snapshot{State: StateWaiting},
	}
}

// Snapshot returns the latest published snapshot. Safe from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Claim asks the controller to claim the current code. It returns once the
// request is accepted or rejected; the result arrives via OnClaimOutcome.
func (c *Controller) Claim(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.claimReq <- reply:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrStopped
	}
}

// Resync requests an immediate resync.
func (c *Controller) Resync() {
	select {
	case c.resyncReq <- struct{}{}:
	default:
	}
}

// Run drives the controller until ctx is cancelled. Responses that arrive
// after cancellation are dropped.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("controller already running")
	}
	c.started = true
	c.mu.Unlock()
	defer close(c.done)

	tick := time.NewTicker(c.cfg.Tick)
	defer tick.Stop()
	resync := time.NewTicker(c.cfg.ResyncInterval)
	defer resync.Stop()

	syncDone := make(chan syncResult, 1)
	claimDone := make(chan claimResult, 1)

	c.startResync(ctx, syncDone)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-tick.C:
			if c.snap.Countdown > 0 {
				c.snap.Countdown--
				if c.snap.Countdown == 0 {
					c.startResync(ctx, syncDone)
				}
				c.publish()
			}

		case <-resync.C:
			c.startResync(ctx, syncDone)

		case <-c.resyncReq:
			c.startResync(ctx, syncDone)

		case r := <-syncDone:
			c.syncing = false
			c.applySync(r)
			if c.resyncPending {
				c.resyncPending = false
				c.startResync(ctx, syncDone)
			}
			c.publish()

		case reply := <-c.claimReq:
			err := c.startClaim(ctx, claimDone)
			reply <- err
			if err == nil {
				c.publish()
			}

		case r := <-claimDone:
			c.finishClaim(r)
			// anything in flight predates the claim
			c.epoch++
			c.resyncPending = c.syncing
			c.startResync(ctx, syncDone)
			c.publish()
		}
	}
}

func (c *Controller) startResync(ctx context.Context, out chan<- syncResult) {
	if c.syncing {
		return
	}
	c.syncing = true
	epoch := c.epoch
	go func() {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		state, err := c.backend.CodeState(rctx)
		select {
		case out <- syncResult{epoch: epoch, state: state, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) applySync(r syncResult) {
	if r.epoch != c.epoch {
		return
	}
	if r.err != nil {
		c.snap.LastError = r.err.Error()
		log.Warn().Err(r.err).Msg("Resync failed")
		return
	}

	s := r.state
	c.unresolved = false
	c.code = s.Code
	c.snap.Synced = true
	c.snap.LastSync = time.Now()
	c.snap.LastError = ""
	c.snap.CodeDate = s.CodeDate
	c.snap.ServerState = s.State
	c.snap.NextRewardAmount = s.NextRewardAmount
	c.snap.NextRewardPosition = s.NextRewardPosition
	c.snap.Multiplier = s.Multiplier
	c.snap.Streak = s.CurrentStreak
	c.snap.Balance = s.Balance
	c.snap.Countdown = max(s.SecondsUntilNextCode, 0)
	if s.CanClaim {
		c.snap.State = StateReady
	} else {
		c.snap.State = StateWaiting
	}
}

func (c *Controller) startClaim(ctx context.Context, out chan<- claimResult) error {
	if c.claiming || c.unresolved {
		return ErrClaimInFlight
	}
	if c.snap.State != StateReady {
		return ErrNotReady
	}
	c.claiming = true
	code := c.code
	go func() {
		res, err := c.claimFresh(ctx, code)
		select {
		case out <- claimResult{res: res, err: err}:
		case <-ctx.Done():
		}
	}()
	return nil
}

// claimFresh re-reads the server state before claiming, so a code claimed
// on another device or rotated since the last resync is never submitted.
func (c *Controller) claimFresh(ctx context.Context, code string) (*model.ClaimResult, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ClaimTimeout)
	defer cancel()

	state, err := c.backend.CodeState(cctx)
	if err != nil {
		return nil, asTimeout(cctx, err)
	}
	if state.Claimed != nil {
		r := *state.Claimed
		r.Replayed = true
		return &r, nil
	}
	if !state.CanClaim {
		return nil, model.NewClaimError(model.ClaimNotClaimable, "code is %s", state.State)
	}
	if state.Code != code {
		log.Debug().Str("code_date", state.CodeDate.Format(time.DateOnly)).Msg("Code rotated since last resync")
	}

	res, err := c.backend.Claim(cctx, state.Code)
	if err != nil {
		return nil, asTimeout(cctx, err)
	}
	return res, nil
}

// asTimeout reports an expired claim deadline as an unknown outcome.
func asTimeout(ctx context.Context, err error) error {
	if errors.Is(err, model.ErrNetworkTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewClaimError(model.ClaimNetworkTimeout, "claim outcome unknown: %v", err)
	}
	return err
}

func (c *Controller) finishClaim(r claimResult) {
	c.claiming = false
	// the action stays disabled until the resync below lands
	c.unresolved = true

	if r.err != nil {
		c.snap.LastError = r.err.Error()
		log.Warn().Err(r.err).Msg("Claim failed")
	} else {
		c.snap.State = StateWaiting
		c.snap.Streak = r.res.NewStreakCount
		c.snap.Balance = r.res.Balance
		c.snap.LastError = ""
	}
	if c.listener != nil {
		c.listener.OnClaimOutcome(Outcome{Result: r.res, Err: r.err})
	}
}

func (c *Controller) publish() {
	c.snap.ClaimInFlight = c.claiming || c.unresolved
	c.snap.CanClaim = c.snap.State == StateReady && !c.snap.ClaimInFlight
	s := c.snap

	c.mu.Lock()
	c.published = s
	c.mu.Unlock()

	if c.listener != nil {
		c.listener.OnSnapshot(s)
	}
}

// String renders a one-line summary of the snapshot.
func (s Snapshot) String() string {
	if s.State == StateReady {
		return fmt.Sprintf("%s streak=%d next=%d balance=%d", s.State, s.Streak, s.NextRewardAmount, s.Balance)
	}
	d := time.Duration(s.Countdown) * time.Second
	return fmt.Sprintf("%s in %s streak=%d next=%d balance=%d", s.State, d, s.Streak, s.NextRewardAmount, s.Balance)
}
