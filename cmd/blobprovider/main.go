// Command blobprovider hosts one page provider: internal/provider.Manager
// served over the internal/rpcwire frame format on a TCP listener, with a
// Prometheus /metrics endpoint for ambient observability (spec.md §2
// names the provider's RPC surface in scope; the process that serves it
// is the natural home for that surface plus the corpus's usual metrics
// wiring, grounded on storj-storj's use of client_golang).
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lizhe1240/blobseer/internal/logctx"
	"github.com/lizhe1240/blobseer/internal/provider"
	"github.com/lizhe1240/blobseer/internal/provider/memstore"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

var (
	servedOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blobseer_provider_ops_total",
		Help: "Count of provider RPCs served, by RPC name and status.",
	}, []string{"rpc", "status"})
)

func main() {
	listenAddr := flag.String("listen", ":9201", "RPC listen address")
	metricsAddr := flag.String("metrics-addr", ":9202", "Prometheus /metrics listen address")
	capacity := flag.Uint64("capacity", memstore.DefaultCapacity, "in-memory store capacity in bytes")
	flag.Parse()

	log, err := logctx.New("blobprovider")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	store := memstore.New(*capacity)
	mgr := provider.NewManager(store)
	mgr.AddListener(func(ev provider.UpdateEvent) {
		log.Debug("page op",
			zap.Uint32("rpc", ev.RPCName),
			zap.String("sender", ev.Sender),
			zap.Uint64("free_space", ev.FreeSpace))
	})

	go serveMetrics(*metricsAddr, log)

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatal("listen failed", zap.Error(err))
	}
	log.Info("blobprovider listening", zap.String("addr", *listenAddr))

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		_ = ln.Close()
	}()

	serve(ctx, ln, mgr, log)
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", zap.Error(err))
	}
}

func serve(ctx context.Context, ln net.Listener, mgr *provider.Manager, log *zap.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		go handleConn(conn, mgr, log)
	}
}

func handleConn(conn net.Conn, mgr *provider.Manager, log *zap.Logger) {
	defer func() { _ = conn.Close() }()
	sender := conn.RemoteAddr().String()

	for {
		header, params, err := rpcwire.ReadMessage(conn, nil)
		if err != nil {
			return
		}

		var result [][]byte
		var status int32
		switch header.Name {
		case rpcwire.ProviderWrite:
			result, status = mgr.WritePage(params, sender)
		case rpcwire.ProviderRead:
			result, status = mgr.ReadPage(params, sender)
		case rpcwire.ProviderProbe:
			result, status = mgr.ProbePage(params, sender)
		case rpcwire.ProviderReadPartial:
			result, status = mgr.ReadPartialPage(params, sender)
		case rpcwire.ProviderRemove:
			result, status = mgr.RemovePage(params, sender)
		default:
			result, status = nil, rpcwire.StatusEArg
		}
		servedOps.WithLabelValues(rpcNameLabel(header.Name), statusLabel(status)).Inc()

		respHeader := rpcwire.Header{Name: header.Name, PSize: uint32(len(result)), Status: status}
		if err := rpcwire.WriteMessage(conn, respHeader, result); err != nil {
			log.Debug("write response failed", zap.Error(err), zap.String("sender", sender))
			return
		}
	}
}

func rpcNameLabel(name uint32) string {
	switch name {
	case rpcwire.ProviderRead:
		return "read"
	case rpcwire.ProviderWrite:
		return "write"
	case rpcwire.ProviderProbe:
		return "probe"
	case rpcwire.ProviderReadPartial:
		return "read_partial"
	case rpcwire.ProviderRemove:
		return "remove"
	default:
		return "unknown"
	}
}

func statusLabel(status int32) string {
	switch status {
	case rpcwire.StatusOK:
		return "ok"
	case rpcwire.StatusEArg:
		return "earg"
	case rpcwire.StatusEObj:
		return "eobj"
	case rpcwire.StatusERes:
		return "eres"
	default:
		return "other"
	}
}
