package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ethwatch/wallet-monitor/internal/config"
	"github.com/ethwatch/wallet-monitor/internal/storage"
	"github.com/ethwatch/wallet-monitor/internal/stream"
)

// walletSource is the slice of the store the scheduler needs.
type walletSource interface {
	GetActiveWallets() ([]storage.Wallet, error)
	GetWallet(address string) (*storage.Wallet, error)
}

// Scheduler drives the polling cadence over all active wallets. It owns its
// lifecycle state explicitly; there are no process-wide flags. Cancellation
// is cooperative: the context is checked per sweep and between wallets, so
// a stop takes effect within one wallet's worth of in-flight work.
type Scheduler struct {
	store     walletSource
	watcher   *Watcher
	forwarder *Forwarder
	events    EventSink
	log       *slog.Logger

	mode     string // config.ModeInterval or config.ModeRealtime
	interval time.Duration
	delay    time.Duration
	backoff  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	cron    *cron.Cron

	// sweeping guards interval mode against overlapping sweeps: a trigger
	// that fires while the previous sweep is still in flight is skipped.
	sweeping sync.Mutex

	// locks serializes observe+forward per wallet address so a manual
	// check never races a sweep on the same wallet.
	locks sync.Map
}

// NewScheduler creates a new Scheduler
func NewScheduler(store walletSource, watcher *Watcher, forwarder *Forwarder, events EventSink, mode string, interval, delay, backoff time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		watcher:   watcher,
		forwarder: forwarder,
		events:    events,
		log:       log,
		mode:      mode,
		interval:  interval,
		delay:     delay,
		backoff:   backoff,
	}
}

// Start begins polling. Idempotent: starting a running scheduler is a
// logged no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Info("monitoring already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})

	switch s.mode {
	case config.ModeInterval:
		s.cron = cron.New()
		_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
			s.runSweep(runCtx)
		})
		if err != nil {
			// Static schedule string; only reachable with a broken interval.
			s.log.Error("schedule sweep job", "error", err)
		}
		s.cron.Start()

		go func() {
			defer close(s.done)
			// Initial sweep right away, same as the interval job.
			s.runSweep(runCtx)
			<-runCtx.Done()
		}()

		s.log.Info("monitoring started", "mode", s.mode, "interval", s.interval)
	default:
		go s.loop(runCtx)
		s.log.Info("monitoring started", "mode", s.mode, "delay", s.delay)
	}

	s.events.Broadcast(stream.EventMonitoringStatus, map[string]string{
		"status":  "started",
		"message": "Monitoring active",
	})
}

// Stop requests a cooperative stop and waits for in-flight work to drain.
// Idempotent: stopping a stopped scheduler is a logged no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.log.Info("monitoring not running")
		return
	}

	s.cancel()
	if s.cron != nil {
		// Wait for a possibly in-flight cron sweep to finish.
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	<-s.done

	s.running = false
	s.log.Info("monitoring stopped")

	s.events.Broadcast(stream.EventMonitoringStatus, map[string]string{
		"status":  "stopped",
		"message": "Monitoring stopped",
	})
}

// IsRunning reports the scheduler state.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// loop is the realtime mode: sweep, short delay, repeat. A sweep-level
// failure (store unavailable) extends the wait instead of retrying tight.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.log.Info("monitoring loop started")

	for {
		if ctx.Err() != nil {
			s.log.Info("monitoring loop stopped")
			return
		}

		wait := s.delay
		if err := s.Sweep(ctx); err != nil {
			s.log.Error("sweep failed", "error", err)
			wait = s.backoff
		}

		select {
		case <-ctx.Done():
			s.log.Info("monitoring loop stopped")
			return
		case <-time.After(wait):
		}
	}
}

// runSweep runs one interval-mode sweep unless the previous one is still in
// flight, in which case the trigger is skipped rather than run concurrently.
func (s *Scheduler) runSweep(ctx context.Context) {
	if !s.sweeping.TryLock() {
		s.log.Warn("previous sweep still running, skipping trigger")
		return
	}
	defer s.sweeping.Unlock()

	if err := s.Sweep(ctx); err != nil {
		s.log.Error("sweep failed", "error", err)
	}
}

// Sweep runs one pass over all active wallets. A single wallet's failure is
// contained at the wallet boundary and never aborts the sweep; only a store
// failure listing the wallets is a sweep-level error.
func (s *Scheduler) Sweep(ctx context.Context) error {
	wallets, err := s.store.GetActiveWallets()
	if err != nil {
		return fmt.Errorf("list active wallets: %w", err)
	}

	for i := range wallets {
		if ctx.Err() != nil {
			s.log.Info("sweep interrupted", "remaining", len(wallets)-i)
			return nil
		}

		wallet := wallets[i]
		if err := s.checkWallet(ctx, &wallet); err != nil {
			s.log.Error("wallet check failed", "address", wallet.Address, "error", err)
			s.events.LogEvent(wallet.Address, fmt.Sprintf("Error during balance check: %v", err), "error")
		}
	}

	s.log.Debug("sweep completed", "wallets", len(wallets))
	return nil
}

// CheckWallet runs a single observe+forward cycle for one wallet on demand.
// It takes the same per-wallet lock as a sweep, so concurrent checks on the
// same address serialize.
func (s *Scheduler) CheckWallet(ctx context.Context, address string) (Observation, ForwardResult, error) {
	wallet, err := s.store.GetWallet(address)
	if err != nil {
		return Observation{}, ForwardResult{}, err
	}
	return s.observeAndForward(ctx, wallet)
}

func (s *Scheduler) checkWallet(ctx context.Context, wallet *storage.Wallet) error {
	_, _, err := s.observeAndForward(ctx, wallet)
	return err
}

func (s *Scheduler) observeAndForward(ctx context.Context, wallet *storage.Wallet) (Observation, ForwardResult, error) {
	lock := s.lockFor(wallet.Address)
	lock.Lock()
	defer lock.Unlock()

	obs, err := s.watcher.Observe(ctx, wallet)
	if err != nil {
		return Observation{}, ForwardResult{}, err
	}

	var res ForwardResult
	if obs.ShouldForward {
		// The observation is committed by now: a repeated poll sees no
		// further delta, so this trigger fires once per detected increase.
		res = s.forwarder.Forward(ctx, wallet)
		switch res.Outcome {
		case Forwarded:
			s.log.Info("payment forwarded", "address", wallet.Address, "tx_hash", res.TxHash)
		case Skipped:
			s.log.Info("forwarding skipped", "address", wallet.Address, "reason", res.Reason)
		case Failed:
			s.log.Error("forwarding failed", "address", wallet.Address, "error", res.Err)
			s.events.LogEvent(wallet.Address, fmt.Sprintf("Forwarding failed: %v", res.Err), "error")
		}
	}

	return obs, res, nil
}

func (s *Scheduler) lockFor(address string) *sync.Mutex {
	actual, _ := s.locks.LoadOrStore(address, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
