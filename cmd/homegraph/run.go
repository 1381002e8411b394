package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/homegraph/internal/clock"
	"github.com/sweeney/homegraph/internal/config"
	"github.com/sweeney/homegraph/internal/control"
	"github.com/sweeney/homegraph/internal/graph"
	"github.com/sweeney/homegraph/internal/loop"
	"github.com/sweeney/homegraph/internal/metrics"
	"github.com/sweeney/homegraph/internal/mqtt"
	"github.com/sweeney/homegraph/internal/status"
	"github.com/sweeney/homegraph/internal/timer"
	"github.com/sweeney/homegraph/internal/web"
)

// errStopped ends the run group after a shutdown signal.
var errStopped = errors.New("stopped")

func run(f *config.File, simulate bool) error {
	d := f.Daemon
	bootID := uuid.NewString()

	var hw *hardware
	if simulate {
		hw = simulatedHardware(f.Nodes)
		log.Printf("simulating GPIO and one-wire hardware")
	} else {
		var err error
		if hw, err = realHardware(&d); err != nil {
			return err
		}
	}
	defer hw.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		BootID:      bootID,
		HTTPAddr:    d.HTTP,
		Broker:      d.Broker,
		Topic:       d.Topic,
		WSBroker:    d.WSBroker,
		GPIOChip:    d.GPIOChip,
		HeartbeatMs: d.Heartbeat.Milliseconds(),
		QueueSize:   d.QueueSize,
		MaxWaitMs:   d.MaxWait.Milliseconds(),
		Simulate:    simulate,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	var pub mqtt.Publisher
	if d.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   d.Broker,
			ClientID: "homegraph-" + bootID[:8],
			Base:     d.Topic,
			OnConnectionChange: func(connected bool) {
				tracker.SetMQTTConnected(connected)
				m.SetMQTTConnected(connected)
			},
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		pub = p
	}

	dm, err := newDaemon(f, hw, deps{
		tracker: tracker,
		metrics: m,
		scrape:  promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		pub:     pub,
	})
	if err != nil {
		if pub != nil {
			pub.Close()
		}
		return err
	}

	log.Printf("started: nodes=%d http=%q broker=%q topic=%s heartbeat=%v",
		dm.reg.Len(), d.HTTP, d.Broker, d.Topic, d.Heartbeat)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var beat <-chan time.Time
	if d.Heartbeat > 0 {
		t := time.NewTicker(d.Heartbeat)
		defer t.Stop()
		beat = t.C
	}

	return dm.Run(context.Background(), sigCh, beat)
}

// deps are the daemon's collaborators that outlive graph construction.
type deps struct {
	tracker *status.Tracker
	metrics *metrics.Metrics
	scrape  http.Handler
	pub     mqtt.Publisher // nil without a broker
}

type daemon struct {
	reg     *graph.Registry
	loop    *loop.Loop
	ctl     *control.Mux
	tracker *status.Tracker
	metrics *metrics.Metrics
	pub     mqtt.Publisher
	web     *web.Server
}

// newDaemon builds the graph and wires it to the loop, the observers and
// the HTTP server. Nothing is activated yet.
func newDaemon(f *config.File, hw *hardware, d deps) (*daemon, error) {
	cfg := f.Daemon
	c := clock.System{}
	timers := timer.New(c)
	l := loop.New(c, timers, loop.WithQueueSize(cfg.QueueSize), loop.WithMaxWait(cfg.MaxWait))

	obs := graph.Observers{d.tracker, d.metrics}
	if d.pub != nil {
		obs = append(obs, mqtt.NewNotifier(d.pub))
	}

	reg := graph.NewRegistry(graph.Env{
		Clock:    c,
		Timers:   timers,
		Defer:    l.Post,
		GPIO:     hw.chip,
		OneWire:  hw.OneWire,
		Observer: obs,
	})
	if err := reg.Build(f.Nodes); err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	ctl := control.NewMux()
	if err := reg.RegisterControls(ctl); err != nil {
		return nil, fmt.Errorf("register controls: %w", err)
	}

	l.AfterStep = func(s loop.Stats) {
		d.tracker.SetLoopStats(s)
		d.metrics.ObserveLoop(s)
	}

	dm := &daemon{
		reg:     reg,
		loop:    l,
		ctl:     ctl,
		tracker: d.tracker,
		metrics: d.metrics,
		pub:     d.pub,
	}

	if cfg.HTTP != "" {
		allow, err := cfg.AllowNets()
		if err != nil {
			return nil, err
		}
		dm.web = web.New(web.Options{
			Addr:    cfg.HTTP,
			Tracker: d.tracker,
			Control: ctl,
			Post:    l.Post,
			Timeout: cfg.RequestTimeout,
			Allow:   allow,
			Metrics: d.scrape,
			Observe: func(code int) { d.metrics.ObserveRequest("http", code) },
		})
	}
	return dm, nil
}

// handleCommand runs an MQTT command on the loop. It is called from the
// MQTT client goroutine, so it only posts.
func (d *daemon) handleCommand(cmd mqtt.Command) {
	req := control.NewRequest("MQTT", []string{cmd.Node, "set", cmd.Action}, cmd.Params)
	ok := d.loop.Post(func() {
		resp := d.ctl.Serve(req)
		d.metrics.ObserveRequest("mqtt", resp.Status)
		if resp.Status != http.StatusOK {
			log.Printf("mqtt command %s/%s: %d %s", cmd.Node, cmd.Action, resp.Status, http.StatusText(resp.Status))
		}
	})
	if !ok {
		log.Printf("mqtt command %s/%s dropped: loop queue full", cmd.Node, cmd.Action)
		d.metrics.ObserveRequest("mqtt", http.StatusServiceUnavailable)
	}
}

// Run activates the graph and serves until ctx ends or a signal arrives.
// STARTUP is published before anything runs and SHUTDOWN after the loop
// has stopped.
func (d *daemon) Run(ctx context.Context, sig <-chan os.Signal, heartbeat <-chan time.Time) error {
	if err := d.reg.ActivateAll(); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	// Activation seeds inputs from the pins without notifying observers.
	nodes := d.reg.Nodes()
	d.tracker.Track(nodes)
	d.metrics.Track(nodes)

	d.publishSystem("STARTUP", "")

	if sub, ok := d.pub.(mqtt.Subscriber); ok {
		if err := sub.Subscribe(d.handleCommand); err != nil {
			log.Printf("mqtt subscribe: %v", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.loop.Run(ctx)
	})

	if d.web != nil {
		g.Go(func() error {
			log.Printf("http server listening on %s", d.tracker.Snapshot().Config.HTTPAddr)
			if err := d.web.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.web.Shutdown(sctx)
		})
	}

	var reason string
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-heartbeat:
				snap := d.tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v nodes=%d processed=%d dropped=%d",
					snap.Uptime().Truncate(time.Second), len(snap.Nodes), snap.Loop.Processed, snap.Loop.Dropped)
				d.publishSystem("HEARTBEAT", "")
			case s := <-sig:
				log.Printf("received %v, shutting down", s)
				reason = signalName(s)
				return errStopped
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, errStopped) || errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		log.Printf("run: %v", err)
		if reason == "" {
			reason = "ERROR"
		}
	}

	d.publishSystem("SHUTDOWN", reason)
	if d.pub != nil {
		if cerr := d.pub.Close(); cerr != nil {
			log.Printf("mqtt close: %v", cerr)
		}
	}
	return err
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
func (d *daemon) publishSystem(event, reason string) {
	if d.pub == nil {
		return
	}
	if cs, ok := d.pub.(mqtt.ConnectionStatus); ok {
		d.tracker.SetMQTTConnected(cs.IsConnected())
	}
	if net := readNetworkInfo(); net != nil {
		d.tracker.SetNetwork(net)
	}
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.pub.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", strings.ToLower(event), err)
		return
	}
	if event != "HEARTBEAT" {
		log.Printf("published %s event", strings.ToLower(event))
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
