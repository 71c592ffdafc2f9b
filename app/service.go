package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/mutorelay/api"
	"github.com/kilianp07/mutorelay/api/ws"
	"github.com/kilianp07/mutorelay/config"
	"github.com/kilianp07/mutorelay/core/factory"
	"github.com/kilianp07/mutorelay/core/hardware"
	"github.com/kilianp07/mutorelay/core/journal"
	coremetrics "github.com/kilianp07/mutorelay/core/metrics"
	"github.com/kilianp07/mutorelay/core/monitoring"
	"github.com/kilianp07/mutorelay/core/relay"
	_ "github.com/kilianp07/mutorelay/infra/driver"
	"github.com/kilianp07/mutorelay/infra/logger"
	"github.com/kilianp07/mutorelay/infra/metrics"
	inframon "github.com/kilianp07/mutorelay/infra/monitoring"
)

// Service owns the hardware handle, the client hub and the HTTP listener.
type Service struct {
	cfg     *config.Config
	log     logger.Logger
	version string

	Handle  *hardware.Handle
	Hub     *ws.Hub
	Relay   *relay.Relay
	sink    coremetrics.Sink
	journal journal.Store
	clients atomic.Int64

	// base scopes connection handling and background loops.
	base   context.Context
	cancel context.CancelFunc
	router http.Handler
}

// New initializes hardware first, logging the outcome, and then assembles the
// relay. A hardware failure is not fatal: the handle starts unavailable and
// motor commands are rejected until it recovers.
func New(ctx context.Context, cfg *config.Config, version string) (*Service, error) {
	logger.SetLevel(cfg.Log.Level)
	logg := logger.New("service")

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Service{cfg: cfg, log: logg, version: version, sink: sink, journal: store, base: base, cancel: cancel}

	s.Handle = hardware.Open(ctx, cfg.Hardware.Driver.Type,
		hardware.RegistryOpener(cfg.Hardware.Driver),
		hardware.WithCallTimeout(time.Duration(cfg.Hardware.CallTimeoutMS)*time.Millisecond),
		hardware.WithLogger(logger.New("hardware")),
	)
	if st := s.Handle.Status(); !st.Ready() {
		logg.Warnf("starting without hardware: %s", st.Error)
	}

	s.Hub = ws.NewHub(
		ws.WithHubLogger(logger.New("ws")),
		ws.WithClientCountHook(s.clientsChanged()),
	)
	s.Relay = relay.New(s.Handle, s.Hub,
		relay.WithConfig(cfg.Relay),
		relay.WithMetrics(sink),
		relay.WithJournal(store),
		relay.WithLogger(logger.New("relay")),
	)

	wsServer := ws.NewServer(base, s.Hub, s.Relay, s.Handle, ws.Config{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Secret:          []byte(cfg.Server.JWTSecret),
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
	}, logger.New("ws"))

	deps := api.Deps{
		WS:           wsServer,
		Status:       s.Handle,
		Clients:      s.Hub,
		JournalToken: cfg.Journal.Token,
		Title:        cfg.Sentry.RobotName,
		Version:      version,
	}
	if cfg.Journal.Backend != "none" {
		deps.Journal = store
	}
	if hasSink(cfg.Metrics.Sinks, "prometheus") {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s.router = api.NewRouter(deps)
	return s, nil
}

func hasSink(cfgs []factory.ModuleConfig, typ string) bool {
	for _, c := range cfgs {
		if c.Type == typ {
			return true
		}
	}
	return false
}

// clientsChanged runs on the hub goroutine and must not block.
func (s *Service) clientsChanged() func(int) {
	prev := 0
	return func(n int) {
		s.clients.Store(int64(n))
		if cr, ok := s.sink.(coremetrics.ClientsRecorder); ok {
			if err := cr.RecordClients(n); err != nil {
				s.log.Warnf("record clients: %v", err)
			}
		}
		if n == 0 && prev > 0 && s.cfg.Hardware.StopOnDisconnect && s.Handle.Status().Ready() {
			go s.stopIfIdle()
		}
		prev = n
	}
}

// stopIfIdle zeroes the wheels unless a client has connected since the last
// one left.
func (s *Service) stopIfIdle() {
	if s.clients.Load() > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*s.callTimeout())
	defer cancel()
	if err := s.Relay.Stop(ctx); err != nil {
		s.log.Warnf("stop on disconnect: %v", err)
	}
}

func (s *Service) callTimeout() time.Duration {
	return time.Duration(s.cfg.Hardware.CallTimeoutMS) * time.Millisecond
}

// Handler returns the HTTP routes.
func (s *Service) Handler() http.Handler { return s.router }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	go s.Hub.Run(s.base)
	s.Hub.ForwardStatus(s.base, s.Handle)
	metrics.StartStatusCollector(s.base, s.Handle, s.sink)
	if s.cfg.Hardware.RetryInit && !s.Handle.Status().Ready() {
		s.Handle.RetryInit(s.base, time.Duration(s.cfg.Hardware.RetryMaxIntervalMS)*time.Millisecond)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout(),
		WriteTimeout: s.cfg.Server.WriteTimeout(),
		IdleTimeout:  s.cfg.Server.IdleTimeout(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.cancel()
			return fmt.Errorf("http server: %w", err)
		}
	}

	s.log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout())
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	// hijacked websocket connections are not tracked by Shutdown
	s.cancel()
	return err
}

// Close releases the hardware, the journal and flushes monitoring.
func (s *Service) Close() error {
	s.cancel()
	var errs []error
	if s.cfg.Hardware.StopOnDisconnect && s.Handle.Status().Ready() {
		ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout())
		if err := s.Relay.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop wheels: %w", err))
		}
		cancel()
	}
	if err := s.Handle.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: %w", err))
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
