package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bulkbot/internal/config"
	"bulkbot/internal/conversation"
	"bulkbot/internal/dispatch"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/inbound"
	"bulkbot/internal/reply"
	"bulkbot/internal/report"
	"bulkbot/internal/runtime/supervisor"
	"bulkbot/internal/session"
	"bulkbot/internal/shell"
	"bulkbot/internal/storage"
	"bulkbot/internal/transport"
	"bulkbot/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type App struct {
	runID string
	cfgm  *config.Manager
	cfg   *config.Config
	camp  config.Campaign

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clockwork.Clock

	factory  transport.Factory
	sup      *supervisor.Supervisor
	pool     *session.Pool
	registry *conversation.Registry
	sched    *dispatch.Scheduler
	replies  *reply.Coordinator
	inbound  *inbound.Router
	report   *report.Reporter

	watch    bool
	stopOnce sync.Once
}

type Option func(*App)

// WithFactory replaces the transport selected by transport.driver.
func WithFactory(f transport.Factory) Option { return func(a *App) { a.factory = f } }

func WithClock(c clockwork.Clock) Option { return func(a *App) { a.clock = c } }

// WithoutWatch disables config hot reload.
func WithoutWatch() Option { return func(a *App) { a.watch = false } }

// New loads and validates the config and wires every component. Nothing
// connects until Start. A config problem is returned as *config.Error.
func New(cfgPath string, opts ...Option) (_ *App, err error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{
		runID: uuid.NewString(),
		cfgm:  cfgm,
		cfg:   cfg,
		camp:  cfg.Campaign(),
		clock: clockwork.NewRealClock(),
		bus:   eventbus.New(),
		watch: true,
	}
	for _, o := range opts {
		o(a)
	}

	// Remote logging needs a ready session, so it is enabled after bring-up.
	logCfg := cfg.Logging.LogConfig()
	logCfg.Remote.Enabled = false
	a.logs, a.log = logx.New(logCfg)
	a.log = a.log.With(logx.String("run", a.runID))
	defer func() {
		if err != nil {
			_ = a.logs.Close()
		}
	}()
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store = storage.Nop{}
	if enabled {
		st, oerr := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
		if oerr != nil {
			return nil, oerr
		}
		a.store = st
		a.log.Info("delivery audit enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}
	audit := storage.Stamped{Store: a.store, RunID: a.runID, Now: a.clock.Now}

	if a.factory == nil {
		f, ferr := newFactory(cfg, a.log.With(logx.String("comp", "transport")))
		if ferr != nil {
			_ = a.store.Close()
			return nil, ferr
		}
		a.factory = f
	}

	a.registry = conversation.NewRegistry()
	a.sup = supervisor.New(context.Background(), supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.pool = session.NewPool(a.factory, a.sup, a.bus, a.log.With(logx.String("comp", "session")))
	a.sched = dispatch.New(a.pool, a.registry, dispatch.Settings{
		Delay:               a.camp.Delay,
		MessagesBeforePause: a.camp.MessagesBeforePause,
		Pause:               a.camp.PauseDuration,
	},
		dispatch.WithClock(a.clock),
		dispatch.WithBus(a.bus),
		dispatch.WithLogger(a.log.With(logx.String("comp", "dispatch"))),
		dispatch.WithAuditor(audit),
	)
	a.replies = reply.New(a.registry, a.sched, a.camp.Delay,
		reply.WithClock(a.clock),
		reply.WithLogger(a.log.With(logx.String("comp", "reply"))),
	)
	a.inbound = inbound.NewRouter(a.registry,
		inbound.WithClock(a.clock),
		inbound.WithBus(a.bus),
		inbound.WithAuditor(audit),
		inbound.WithLogger(a.log.With(logx.String("comp", "inbound"))),
	)
	a.report = report.New(a.sched, cfg.Report.Schedule, a.log.With(logx.String("comp", "report")))
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the supervisor context is cancelled.
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

// Start brings the sessions up one at a time, installs the inbound handler
// and launches one dispatch job per session. It blocks until every session
// is ready or ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.log.Info("starting",
		logx.Int("accounts", a.camp.NumAccounts),
		logx.Int("recipients", len(a.camp.Numbers)),
		logx.String("transport", a.cfg.TransportDriver()),
	)

	if err := a.pool.Initialize(ctx, a.camp.NumAccounts); err != nil {
		return err
	}
	a.bindRemoteLog(a.cfg.Logging.Remote)
	a.logs.Apply(a.cfg.Logging.LogConfig())
	a.inbound.Attach(a.pool)

	plan, err := Plan(a.camp)
	if err != nil {
		return err
	}
	for i, p := range plan {
		a.log.Debug("partition", logx.Int("session", i), logx.Int("recipients", len(p)))
	}
	if err := a.sched.Start(a.sup.Context(), plan, a.camp.Message); err != nil {
		return err
	}

	if err := a.report.Start(); err != nil {
		a.log.Warn("progress report disabled", logx.Err(err))
	}

	a.startEventLog()
	if a.watch {
		a.startConfigReload()
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("started", logx.Int("sessions", a.pool.Len()))
	return nil
}

// Run starts the app, then serves the operator shell (or, headless, waits
// for ctx) and stops. It returns nil on operator exit or ctx cancellation.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopFatalError)
		return err
	}

	var reason StopReason
	if a.cfg.ShellEnabled() {
		sh := shell.New(a, a.bus, shell.WithLogger(a.log.With(logx.String("comp", "shell"))))
		if err := sh.Run(ctx); err != nil {
			a.log.Error("shell failed", logx.Err(err))
		}
		reason = StopOperator
		if ctx.Err() != nil {
			reason = reasonFromContext(ctx)
		}
	} else {
		select {
		case <-ctx.Done():
			reason = reasonFromContext(ctx)
		case <-a.Done():
			reason = StopFatalError
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Stop(stopCtx, reason)
}

// ListConversations returns every conversation in creation order.
func (a *App) ListConversations() []conversation.Summary {
	all := a.registry.ListAll()
	out := make([]conversation.Summary, 0, len(all))
	for _, c := range all {
		out = append(out, c.Summary())
	}
	return out
}

// SubmitReply schedules body for each conversation in ids.
func (a *App) SubmitReply(ctx context.Context, ids []int, body string) (int, error) {
	return a.replies.ProcessReply(ctx, ids, body)
}

func (a *App) Jobs() []dispatch.JobStatus { return a.sched.Jobs() }

// Registry exposes the conversation registry.
func (a *App) Registry() *conversation.Registry { return a.registry }

// WaitDispatch blocks until every bulk job is done.
func (a *App) WaitDispatch(ctx context.Context) error { return a.sched.Wait(ctx) }

func (a *App) bindRemoteLog(rc config.LoggingRemote) {
	if !rc.Enabled || strings.TrimSpace(rc.Address) == "" {
		a.logs.SetRemote(nil, "")
		return
	}
	s, ok := a.pool.Session(rc.Session)
	if !ok {
		a.log.Warn("remote logging disabled; no such session", logx.Int("session", rc.Session))
		a.logs.SetRemote(nil, "")
		return
	}
	a.logs.SetRemote(s, rc.Address)
}

// startEventLog traces every bus event. Without the shell, transcripts are
// written to the log instead of the terminal.
func (a *App) startEventLog() {
	headless := !a.cfg.ShellEnabled()
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if snap, ok := e.Data.(conversation.Snapshot); ok && headless {
					a.log.Info("transcript", logx.Int("conversation", snap.ID), logx.String("text", snap.Render()))
				}
			}
		}
	})
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest snapshot.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(last, next *config.Config) {
	ch := config.SummarizeChange(last, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)

	for _, s := range ch.Sections {
		if s == "logging" {
			a.bindRemoteLog(next.Logging.Remote)
			a.logs.Apply(next.Logging.LogConfig())
			break
		}
	}
	if ch.RestartRequired {
		a.log.Warn("config changed; restart required for non-logging sections to take effect", fields...)
		return
	}
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in order, each step bounded so one stuck
// component cannot stall the rest. It is safe to call more than once.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("report", time.Second, a.report.Stop)
	step("replies", 2*time.Second, a.replies.Stop)
	step("dispatch", 2*time.Second, a.sched.Stop)
	step("sessions", 3*time.Second, a.pool.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.String("reason", string(reason)))
	return a.logs.Close()
}
