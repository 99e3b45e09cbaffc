package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/crowdsim/internal/core/assets"
	"github.com/zeusync/crowdsim/internal/core/crowd"
	"github.com/zeusync/crowdsim/internal/core/events/bus"
	"github.com/zeusync/crowdsim/internal/core/observability/journal"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

// Server owns the simulation loop and every way in or out of it: the fixed
// tick driving the crowd, the command inbox feeding external requests into
// the loop, and the gateway, QUIC feed and journal observing the bus. The
// simulation itself is single-threaded; only the tick goroutine touches it.
type Server struct {
	cfg Config
	log log.Log

	bus  bus.Bus
	sim  *crowd.Simulation
	hub  *Hub
	gw   *Gateway
	feed *QUICFeed
	rec  *journal.Recorder

	inbox     *inbox
	spawnDebt []float64
	startedAt time.Time
	stats     atomic.Pointer[ServerStats]

	running atomic.Bool
	closed  atomic.Bool
}

// ServerStats is the payload behind /stats, refreshed once per tick on the
// loop goroutine so HTTP reads never touch live simulation state.
type ServerStats struct {
	Sim      crowd.Stats `json:"sim"`
	Digest   string      `json:"digest"`
	Feed     FeedStats   `json:"feed"`
	Bus      BusStats    `json:"bus"`
	Inbox    int         `json:"inbox"`
	TickRate float64     `json:"tick_rate"`
	Uptime   float64     `json:"uptime_seconds"`
}

// BusStats remaps bus delivery counters into the stats payload.
type BusStats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Errors      uint64 `json:"errors"`
	Subscribers uint64 `json:"subscribers"`
}

// New assembles a server from configuration: assets, bus, journal,
// simulation, hub, gateway and the optional QUIC feed.
func New(cfg Config, lg log.Log) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lg == nil {
		lg = log.New(log.ParseLevel(cfg.LogLevel))
	}
	lg = lg.With(log.String("component", "server"))

	bundle, err := loadBundle(cfg.AssetPath)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	b := bus.New()

	var rec *journal.Recorder
	if cfg.Journal.Enabled {
		if rec, err = journal.NewRecorder(b, cfg.Journal.Dir); err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	sim, err := crowd.New(cfg.Sim.crowdConfig(), bundle, b, lg)
	if err != nil {
		return nil, fmt.Errorf("build simulation: %w", err)
	}

	hub, err := NewHub(b, cfg.FeedBuffer, lg)
	if err != nil {
		return nil, fmt.Errorf("build feed hub: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		log:       lg,
		bus:       b,
		sim:       sim,
		hub:       hub,
		rec:       rec,
		inbox:     newInbox(cfg.InboxLimit),
		spawnDebt: make([]float64, len(cfg.Spawn)),
	}
	s.gw = NewGateway(cfg.HTTPAddr, cfg.CommandToken, hub, s.Stats, s.EnqueueCommand, lg)
	if cfg.QUICAddr != "" {
		s.feed = NewQUICFeed(cfg.QUICAddr, hub, lg)
	}
	s.stats.Store(&ServerStats{TickRate: cfg.TickRate})

	lg.Info("server assembled",
		log.String("http_addr", cfg.HTTPAddr),
		log.String("quic_addr", cfg.QUICAddr),
		log.Float64("tick_rate", cfg.TickRate),
		log.Bool("journal", cfg.Journal.Enabled),
	)
	return s, nil
}

func loadBundle(path string) (*assets.Bundle, error) {
	if path == "" {
		return assets.DefaultBundle(), nil
	}
	return assets.LoadPath(path)
}

// Run drives the tick loop and the transports until ctx is canceled or one
// of them fails. It returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	defer s.running.Store(false)
	s.startedAt = time.Now()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.loop(ctx) })

	g.Go(s.gw.Serve)
	g.Go(func() error {
		<-ctx.Done()
		grace, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		return s.gw.Shutdown(grace)
	})

	if s.feed != nil {
		if err := s.feed.Listen(); err != nil {
			s.shutdownObservers()
			return fmt.Errorf("quic feed listen: %w", err)
		}
		g.Go(func() error { return s.feed.Serve(ctx) })
		g.Go(func() error {
			<-ctx.Done()
			return s.feed.Close()
		})
	}

	s.log.Info("server running")
	err := g.Wait()
	s.shutdownObservers()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.log.Info("server stopped", log.Error(err))
	return err
}

func (s *Server) shutdownObservers() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.hub.Close()
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.log.Warn("journal close failed", log.Error(err))
		}
	}
}

// loop is the fixed-step driver. One iteration drains the inbox, tops up
// spawn rules, steps the simulation, applies the fidelity cap and publishes
// a stats snapshot.
func (s *Server) loop(ctx context.Context) error {
	dt := 1.0 / s.cfg.TickRate
	ticker := time.NewTicker(time.Duration(float64(time.Second) * dt))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.step(dt)
		}
	}
}

func (s *Server) step(dt float64) {
	for _, cmd := range s.inbox.Drain() {
		s.apply(cmd)
	}
	s.autoSpawn(dt)
	s.sim.Step(dt)
	s.enforceFidelityCap()
	s.snapshotStats()
}

// apply executes one queued command. Failures are logged and dropped; a bad
// command must not take the loop down.
func (s *Server) apply(cmd Command) {
	switch cmd.Op {
	case OpSpawn:
		n := cmd.Count
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			if _, err := s.sim.Spawn(cmd.Archetype); err != nil {
				s.log.Warn("spawn command failed",
					log.String("archetype", cmd.Archetype),
					log.Error(err),
				)
				return
			}
		}
	case OpDespawn:
		if err := s.sim.Despawn(cmd.AgentID); err != nil {
			s.log.Warn("despawn command failed",
				log.String("agent", cmd.AgentID),
				log.Error(err),
			)
		}
	case OpInterrupt:
		key, ok := s.sim.Runtime().Keys.Lookup(cmd.Key)
		if !ok {
			s.log.Warn("interrupt command names unknown key",
				log.String("agent", cmd.AgentID),
				log.String("key", cmd.Key),
			)
			return
		}
		interactor := cmd.Interactor
		if interactor == "" {
			interactor = "operator"
		}
		ok, err := s.sim.TryInterrupt(cmd.AgentID, key, interactor)
		if err != nil {
			s.log.Warn("interrupt command failed",
				log.String("agent", cmd.AgentID),
				log.Error(err),
			)
		} else if !ok {
			s.log.Debug("interrupt refused",
				log.String("agent", cmd.AgentID),
				log.String("key", cmd.Key),
			)
		}
	case OpResume:
		if err := s.sim.EndInterruption(cmd.AgentID); err != nil {
			s.log.Warn("resume command failed",
				log.String("agent", cmd.AgentID),
				log.Error(err),
			)
		}
	case OpFidelity:
		f := crowd.FidelityActive
		if cmd.Fidelity == "reduced" {
			f = crowd.FidelityReduced
		}
		if err := s.sim.SetFidelity(cmd.AgentID, f); err != nil {
			s.log.Warn("fidelity command failed",
				log.String("agent", cmd.AgentID),
				log.Error(err),
			)
		}
	}
}

// autoSpawn accrues fractional spawn debt per rule and settles whole agents,
// respecting each rule's population cap.
func (s *Server) autoSpawn(dt float64) {
	if len(s.cfg.Spawn) == 0 {
		return
	}
	counts := make(map[string]int, len(s.cfg.Spawn))
	s.sim.Each(func(a *crowd.Agent) {
		counts[a.Archetype.ID]++
	})
	for i, rule := range s.cfg.Spawn {
		if rule.PerSecond <= 0 {
			continue
		}
		if rule.Max > 0 && counts[rule.Archetype] >= rule.Max {
			s.spawnDebt[i] = 0
			continue
		}
		s.spawnDebt[i] += rule.PerSecond * dt
		for s.spawnDebt[i] >= 1 {
			s.spawnDebt[i]--
			if rule.Max > 0 && counts[rule.Archetype] >= rule.Max {
				break
			}
			if _, err := s.sim.Spawn(rule.Archetype); err != nil {
				s.log.Warn("auto spawn failed",
					log.String("archetype", rule.Archetype),
					log.Error(err),
				)
				break
			}
			counts[rule.Archetype]++
		}
	}
}

// enforceFidelityCap keeps the first MaxActive agents in spawn order at full
// fidelity and the rest reduced. Agents promote back automatically as the
// population ahead of them drains.
func (s *Server) enforceFidelityCap() {
	if s.cfg.MaxActive <= 0 {
		return
	}
	seen := 0
	s.sim.Each(func(a *crowd.Agent) {
		seen++
		want := crowd.FidelityActive
		if seen > s.cfg.MaxActive {
			want = crowd.FidelityReduced
		}
		if a.Fidelity == want {
			return
		}
		if err := s.sim.SetFidelity(a.ID, want); err != nil {
			s.log.Warn("fidelity cap switch failed",
				log.String("agent", a.ID),
				log.Error(err),
			)
		}
	})
}

func (s *Server) snapshotStats() {
	m := s.bus.Metrics()
	st := ServerStats{
		Sim:    s.sim.Stats(),
		Digest: fmt.Sprintf("%016x", s.sim.Digest()),
		Feed:   s.hub.Stats(),
		Bus: BusStats{
			Published:   m.Published,
			Delivered:   m.DeliveredHandlers,
			Errors:      m.Errors,
			Subscribers: m.SubscribersActive,
		},
		Inbox:    s.inbox.Len(),
		TickRate: s.cfg.TickRate,
		Uptime:   time.Since(s.startedAt).Seconds(),
	}
	s.stats.Store(&st)
}

// Stats returns the latest published snapshot. Safe from any goroutine.
func (s *Server) Stats() ServerStats {
	return *s.stats.Load()
}

// EnqueueCommand validates and queues a command for the next tick.
func (s *Server) EnqueueCommand(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return s.inbox.Push(cmd)
}

// Simulation exposes the crowd for embedding callers (examples, tests) that
// drive the loop themselves instead of calling Run.
func (s *Server) Simulation() *crowd.Simulation {
	return s.sim
}
