// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег
// Author: Volkov Oleg
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const envPrefix = "TRAPRECEIVER_"

/*
Тестирование при помощи net-snmp

	TRAPRECEIVER_USERS=snmpuser:sha:pass123456:aes:priv123456,snmpuser256:sha256:pass123456:aes256a:priv123456
	TRAPRECEIVER_COMMUNITIES=public

snmpinform -v 3 -u snmpuser -a sha -A pass123456 -l authPriv -x aes -X priv123456 -e <engine id из лога> 192.168.0.143 42 coldStart.0
snmptrap -v 3 -u snmpuser -a sha -A pass123456 -l authPriv -x aes -X priv123456 -e 0x8000000001020304 192.168.0.143 42 coldStart.0
snmpinform -v 2c -c public 192.168.0.143 42 coldStart.0

Для трапов v3 -e задаёт EngineID отправителя, для информов - EngineID приёмника.
*/

// printer prints every notification the way the original receiver did.
type printer struct{}

func (printer) HandleNotification(n *PowerSNMP.Notification) {
	kind := "TRAP"
	if n.Confirmed() {
		kind = "INFORM"
	}
	SNMPverForPrint := "2c"
	switch n.Version {
	case PowerSNMP.SNMP_VERSION_1:
		SNMPverForPrint = "1"
	case PowerSNMP.SNMP_VERSION_3:
		SNMPverForPrint = "3"
	}
	fmt.Printf("%s from %s, SNMP v%s, security name: %s\n", kind, n.Address, SNMPverForPrint, n.SecurityName)
	for _, vb := range n.PDU.VarBinds {
		fmt.Println(PowerSNMP.Convert_OID_IntArrayToString_RAW(vb.OID), "=", vb.Value.String())
	}
}

type handlers []PowerSNMP.NotificationHandler

func (hs handlers) HandleNotification(n *PowerSNMP.Notification) {
	for _, h := range hs {
		h.HandleNotification(n)
	}
}

func main() {
	// .env не обязателен
	_ = godotenv.Load()
	cfg, err := PowerSNMP.LoadConfig(envPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if os.Getenv(envPrefix+"LISTEN_ADDRESS") == "" {
		cfg.ListenAddress = ":162"
	}
	logger := PowerSNMP.NewLogger(cfg.LogLevel)

	ec, closeStore, err := cfg.EngineConfig(logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("bad configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()
	e, err := PowerSNMP.NewEngine(ec)
	if err != nil {
		logger.Error("engine not created", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Apply(e); err != nil {
		logger.Error("bad configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	hs := handlers{printer{}}
	if cfg.NATSURL != "" {
		sink, err := PowerSNMP.NewNATSNotificationSink(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Error("NATS sink not created", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer sink.Close()
		hs = append(hs, sink)
	}
	e.SetNotificationHandler(hs)

	t, err := PowerSNMP.OpenServerMode(cfg.ListenAddress, logger)
	if err != nil {
		logger.Error("listen failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := e.RegisterTransportDispatcher(t); err != nil {
		logger.Error("transport not bound", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("trap receiver started", slog.String("address", cfg.ListenAddress), slog.String("local_engine_id", hex.EncodeToString(e.EngineID())))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Run(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddress, logger) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("trap receiver stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics server started", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
