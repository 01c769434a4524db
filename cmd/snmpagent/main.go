// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const envPrefix = "SNMPAGENT_"

var (
	oidSystem     = []int{1, 3, 6, 1, 2, 1, 1}
	oidIfEntry    = []int{1, 3, 6, 1, 2, 1, 2, 2, 1}
	enterpriseOID = []int{1, 3, 6, 1, 4, 1, 8072, 3, 2, 10}
)

func maxLength(n int) PowerSNMP.Validator {
	return func(v PowerSNMP.SNMPVar) int {
		if len(v.Value) > n {
			return PowerSNMP.SNMP_ErrWrongLength
		}
		return PowerSNMP.SNMP_ErrNoError
	}
}

// registerDemoMib fills the engine tree with the system group and an
// interface table built from the host's network interfaces.
// ifSpeed is the link speed in bit/s from sysfs, 0 when the kernel does
// not report one. ifSpeed saturates at 2^32-1 (RFC2863).
func ifSpeed(name string) uint32 {
	data, err := os.ReadFile(filepath.Join("/sys/class/net", name, "speed"))
	if err != nil {
		return 0
	}
	mbit, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || mbit <= 0 {
		return 0
	}
	return uint32(min(mbit*1_000_000, 1<<32-1))
}

func registerDemoMib(e *PowerSNMP.Engine, logger *slog.Logger) error {
	mib := e.MIB()
	start := time.Now()
	sysObjectID, err := PowerSNMP.SetSNMPVar_OID(enterpriseOID)
	if err != nil {
		return err
	}
	hostname, _ := os.Hostname()

	if _, err := mib.RegisterScalar("sysDescr", append(oidSystem, 1), PowerSNMP.SyntaxOctetString, PowerSNMP.AccessReadOnly,
		PowerSNMP.SetSNMPVar_OctetString(fmt.Sprintf("PowerSNMP engine agent, %s/%s", runtime.GOOS, runtime.GOARCH))); err != nil {
		return err
	}
	if _, err := mib.RegisterScalar("sysObjectID", append(oidSystem, 2), PowerSNMP.SyntaxOID, PowerSNMP.AccessReadOnly, sysObjectID); err != nil {
		return err
	}
	if _, err := mib.RegisterScalarFunc("sysUpTime", append(oidSystem, 3), PowerSNMP.SyntaxTimeTicks, func() PowerSNMP.SNMPVar {
		return PowerSNMP.SetSNMPVar_TimeTicks(uint32(time.Since(start) / (10 * time.Millisecond)))
	}); err != nil {
		return err
	}
	for i, name := range []string{"sysContact", "sysName", "sysLocation"} {
		initial := ""
		if name == "sysName" {
			initial = hostname
		}
		obj, err := mib.RegisterScalar(name, append(oidSystem, 4+i), PowerSNMP.SyntaxOctetString, PowerSNMP.AccessReadWrite, PowerSNMP.SetSNMPVar_OctetString(initial))
		if err != nil {
			return err
		}
		obj.Validate = maxLength(255)
		obj.OnSet = func(oid []int, v PowerSNMP.SNMPVar) error {
			logger.Info("system object changed", slog.String("object", name), slog.String("value", string(v.Value)))
			return nil
		}
	}

	ifTable, err := mib.RegisterTable("ifTable", oidIfEntry, PowerSNMP.IndexSpec{Name: "ifIndex", Type: PowerSNMP.IndexInteger})
	if err != nil {
		return err
	}
	columns := []struct {
		name   string
		col    int
		syntax PowerSNMP.Syntax
		access PowerSNMP.Access
	}{
		{"ifIndex", 1, PowerSNMP.SyntaxInteger, PowerSNMP.AccessReadOnly},
		{"ifDescr", 2, PowerSNMP.SyntaxOctetString, PowerSNMP.AccessReadOnly},
		{"ifMtu", 4, PowerSNMP.SyntaxInteger, PowerSNMP.AccessReadOnly},
		{"ifSpeed", 5, PowerSNMP.SyntaxGauge32, PowerSNMP.AccessReadOnly},
		{"ifPhysAddress", 6, PowerSNMP.SyntaxOctetString, PowerSNMP.AccessReadOnly},
		{"ifAdminStatus", 7, PowerSNMP.SyntaxInteger, PowerSNMP.AccessReadWrite},
		{"ifOperStatus", 8, PowerSNMP.SyntaxInteger, PowerSNMP.AccessReadOnly},
	}
	for _, c := range columns {
		obj, err := ifTable.AddColumn(c.name, c.col, c.syntax, c.access)
		if err != nil {
			return err
		}
		if c.name == "ifAdminStatus" {
			// up(1), down(2), testing(3)
			obj.Validate = func(v PowerSNMP.SNMPVar) int {
				s := PowerSNMP.Convert_snmpint_to_int32(v.Value)
				if s < 1 || s > 3 {
					return PowerSNMP.SNMP_ErrWrongValue
				}
				return PowerSNMP.SNMP_ErrNoError
			}
		}
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Warn("interfaces not listed", slog.String("error", err.Error()))
		return nil
	}
	for _, ifc := range ifaces {
		oper := int32(2)
		if ifc.Flags&net.FlagUp != 0 {
			oper = 1
		}
		if _, err := ifTable.AddRow([]any{ifc.Index}, map[int]PowerSNMP.SNMPVar{
			1: PowerSNMP.SetSNMPVar_Int(int32(ifc.Index)),
			2: PowerSNMP.SetSNMPVar_OctetString(ifc.Name),
			4: PowerSNMP.SetSNMPVar_Int(int32(ifc.MTU)),
			5: PowerSNMP.SetSNMPVar_Gauge32(ifSpeed(ifc.Name)),
			6: {ValueType: PowerSNMP.SyntaxOctetString.Tag, Value: ifc.HardwareAddr},
			7: PowerSNMP.SetSNMPVar_Int(oper),
			8: PowerSNMP.SetSNMPVar_Int(oper),
		}); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	// .env не обязателен
	_ = godotenv.Load()
	cfg, err := PowerSNMP.LoadConfig(envPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
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
	if err := registerDemoMib(e, logger); err != nil {
		logger.Error("MIB not registered", slog.String("error", err.Error()))
		os.Exit(1)
	}

	t, err := PowerSNMP.OpenServerMode(cfg.ListenAddress, logger)
	if err != nil {
		logger.Error("listen failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := e.RegisterTransportDispatcher(t); err != nil {
		logger.Error("transport not bound", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("SNMP agent started",
		slog.String("address", cfg.ListenAddress),
		slog.String("local_engine_id", hex.EncodeToString(e.EngineID())),
		slog.Int("boots", int(e.EngineBoots())))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Run(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddress, logger) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("agent stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("SNMP agent stopped")
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
