// Command meshnowd is a single-process demo/reference daemon: it
// starts a mesh.Runtime over the in-process linklayer/medium driver
// (no real radio), exposes Prometheus metrics, and logs every
// external event. It plays the same role cmd/authn's main.go plays for
// the teacher's auth server: a thin flag-parsing, config-loading,
// signal-handling shell around a library that does the real work.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/derkalaender/meshnow-go/cmn/nlog"
	"github.com/derkalaender/meshnow-go/config"
	"github.com/derkalaender/meshnow-go/evbus"
	"github.com/derkalaender/meshnow-go/ipadaptor"
	"github.com/derkalaender/meshnow-go/kvstore"
	"github.com/derkalaender/meshnow-go/linklayer/medium"
	"github.com/derkalaender/meshnow-go/mesh"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	addrFlag    string
	rootFlag    bool
	peerFlag    string
	configFlag  string
	metricsFlag string
	logDirFlag  string
)

func init() {
	flag.StringVar(&addrFlag, "addr", "", "this node's 6-byte mesh address, e.g. 00:11:22:33:44:55 (random if empty)")
	flag.BoolVar(&rootFlag, "root", false, "run as the tree root")
	flag.StringVar(&peerFlag, "medium", "", "unused: the node always joins the process's single built-in medium")
	flag.StringVar(&configFlag, "config", "", "path to a JSON config file (defaults applied if empty)")
	flag.StringVar(&metricsFlag, "metrics-addr", "", "address to serve /metrics on, e.g. :9090 (disabled if empty)")
	flag.StringVar(&logDirFlag, "log-dir", "", "directory for meshnowd.log (stderr if empty)")
}

var demoMedium = medium.New()

func main() {
	flag.Parse()

	cfg := config.Default()
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "meshnowd: failed to load config %q: %v\n", configFlag, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.IsRoot = rootFlag || cfg.IsRoot
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "meshnowd: invalid config: %v\n", err)
		os.Exit(1)
	}

	self, err := resolveSelf()
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshnowd: %v\n", err)
		os.Exit(1)
	}

	if err := nlog.SetLogDirRole(logDirFlag, "meshnowd"); err != nil {
		fmt.Fprintf(os.Stderr, "meshnowd: log setup: %v\n", err)
		os.Exit(1)
	}
	nlog.SetTitle(self.String())
	// runID distinguishes successive restarts of the same address in
	// aggregated logs, the way a real deployment would tag each
	// process lifetime distinctly from the node's stable identity.
	runID := uuid.NewString()
	nlog.Infof("run %s starting node %s (root=%v)", runID, self, cfg.IsRoot)

	driver := medium.NewDriver(demoMedium, self, -40)
	kv := kvstore.NewMemStore()
	ip := ipadaptor.NewLoopback()

	rt, err := mesh.Init(cfg, self, driver, kv, ip)
	if err != nil {
		nlog.Errorf("init failed: %v", err)
		os.Exit(1)
	}

	rt.Subscribe(evbus.EvParentConnected, func(ev evbus.Event) {
		data := ev.Data.(evbus.ParentConnected)
		nlog.Infof("connected to parent %s", data.Parent)
	})
	rt.Subscribe(evbus.EvParentDisconnected, func(ev evbus.Event) {
		data := ev.Data.(evbus.ParentDisconnected)
		nlog.Infof("lost parent %s", data.Parent)
	})
	rt.RegisterDataCallback(func(src meshaddr.Address, data []byte) {
		nlog.Infof("received %d bytes from %s", len(data), src)
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "meshnow")
	if metricsFlag != "" {
		go serveMetrics(metricsFlag, reg)
	}
	stopSampling := make(chan struct{})
	go sampleMetrics(m, rt, stopSampling)

	if err := rt.Start(); err != nil {
		nlog.Errorf("start failed: %v", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	nlog.Infof("shutting down")
	close(stopSampling)
	if err := rt.Stop(); err != nil {
		nlog.Errorf("stop: %v", err)
	}
	if err := rt.Deinit(); err != nil {
		nlog.Errorf("deinit: %v", err)
	}
	driver.Detach()
}

func resolveSelf() (meshaddr.Address, error) {
	if addrFlag == "" {
		return meshaddr.Random()
	}
	return meshaddr.Parse(addrFlag)
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	nlog.Infof("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		nlog.Errorf("metrics server: %v", err)
	}
}

func sampleMetrics(m *metrics.Metrics, rt *mesh.Runtime, stop <-chan struct{}) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.Sample(rt.Topology(), rt.SendQueue(), rt.RecvQueue(), rt.Fragments())
		case <-stop:
			return
		}
	}
}
