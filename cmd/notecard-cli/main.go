//go:build linux && !rp2040 && !rp2350

// cmd/notecard-cli/main.go is a thin demo/diagnostic harness over the
// public notecard package: it selects a UART or simulated interface,
// issues a handful of requests, and optionally serves Prometheus
// metrics and a lifecycle event log, the way the teacher's cmd/
// entries drive one service directly from main rather than through a
// generic plugin/registration layer.
package main

import (
	"flag"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notecard-go/events"
	"notecard-go/metrics"
	"notecard-go/notecard"
	"notecard-go/platform"
	"notecard-go/x/fmtx"
	"notecard-go/x/timex"
)

func main() {
	device := flag.String("device", "", "serial device path, e.g. /dev/ttyACM0 (empty uses an in-memory simulator)")
	product := flag.String("product", "", "hub.set product UID; skipped when empty")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics at this address (e.g. :9100)")
	verbose := flag.Bool("v", false, "log lifecycle events (start/retry/reset/done) to stderr")
	flag.Parse()

	notecard.SetUserAgentOS(runtimeOS())
	notecard.SetUserAgentCPU(runtimeArch())

	if *metricsAddr != "" {
		collector := metrics.New("notecard")
		prometheus.MustRegister(collector)
		notecard.SetMetrics(collector)

		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				fmtx.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		fmtx.Fprintf(os.Stderr, "serving metrics on %s\n", *metricsAddr)
	}

	if *verbose {
		bus := events.NewBus(32)
		notecard.SetEvents(bus)
		conn := bus.NewConnection()
		sub := conn.Subscribe()
		defer conn.Disconnect()
		go logEvents(sub)
	}

	if *device == "" {
		runAgainstSimulator()
	} else {
		runAgainstSerial(*device)
	}

	if *product != "" {
		rsp := notecard.RequestResponse(withProduct(notecard.NewRequest("hub.set"), *product))
		printDoc("hub.set", rsp)
	}

	rsp := notecard.RequestResponse(notecard.NewRequest("card.version"))
	printDoc("card.version", rsp)

	rsp = notecard.RequestResponse(notecard.NewRequest("card.status"))
	printDoc("card.status", rsp)
}

func withProduct(req map[string]any, product string) map[string]any {
	req["product"] = product
	return req
}

func runAgainstSerial(device string) {
	port, err := platform.OpenLinuxUART(device, 9600)
	if err != nil {
		fmtx.Fprintf(os.Stderr, "open %s: %v\n", device, err)
		os.Exit(1)
	}
	notecard.SetFnSerial(port, nowMs, sleepMs)
}

func runAgainstSimulator() {
	sim := platform.NewSim()
	sim.Feed([]byte(`{"version":"notecard-go sim","connected":true}` + "\n"))
	notecard.SetFnSerial(sim, nowMs, sleepMs)
}

func logEvents(sub *events.Subscription) {
	for ev := range sub.Channel() {
		fmtx.Fprintf(os.Stderr, "[%s] action=%s seqno=%d err=%q\n", ev.Kind, ev.Action, ev.Seqno, ev.Err)
	}
}

func printDoc(action string, doc map[string]any) {
	if errStr, ok := doc["err"].(string); ok && errStr != "" {
		fmtx.Printf("%s: error: %s\n", action, errStr)
		return
	}
	fmtx.Printf("%s: %v\n", action, doc)
}

var startMs = timex.NowMs()

func nowMs() uint32    { return uint32(timex.NowMs() - startMs) }
func sleepMs(n uint32) { time.Sleep(time.Duration(n) * time.Millisecond) }

func runtimeOS() string   { return runtime.GOOS }
func runtimeArch() string { return runtime.GOARCH }
