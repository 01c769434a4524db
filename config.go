// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineConfig configures NewEngine. Zero values select defaults.
type EngineConfig struct {
	// EngineID is generated when empty.
	EngineID []byte
	// MaxMessageSize is clamped to [SNMP_MINMSGSIZE, SNMP_MAXMSGSIZE].
	MaxMessageSize int
	// BootStore persists snmpEngineBoots; nil selects a FileBootStore in
	// DefaultBootStoreDir.
	BootStore BootStore
	Logger    *slog.Logger
	// Registerer receives the engine metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	// Clock defaults to time.Now.
	Clock func() time.Time
	// AccessControlModel is ACM_MODEL_NONE (default) or ACM_MODEL_VACM.
	AccessControlModel int
}

// Config is the environment driven configuration of the binaries.
type Config struct {
	EngineID       string `env:"ENGINE_ID"`
	BootStore      string `env:"BOOT_STORE"       envDefault:"file"`
	StateDir       string `env:"STATE_DIR"        envDefault:"./snmpstate"`
	MaxMessageSize int    `env:"MAX_MESSAGE_SIZE" envDefault:"65507"`
	LogLevel       string `env:"LOG_LEVEL"        envDefault:"info"`
	ListenAddress  string `env:"LISTEN_ADDRESS"   envDefault:":161"`
	MetricsAddress string `env:"METRICS_ADDRESS"  envDefault:":9161"`
	AccessControl  string `env:"ACCESS_CONTROL"   envDefault:"vacm"`
	// community[:rw], comma separated
	Communities []string `env:"COMMUNITIES" envSeparator:"," envDefault:"public"`
	// name:authproto:authkey:privproto:privkey[:rw], comma separated
	Users       []string `env:"USERS"        envSeparator:","`
	Contexts    []string `env:"CONTEXTS"     envSeparator:","`
	NATSURL     string   `env:"NATS_URL"`
	NATSSubject string   `env:"NATS_SUBJECT" envDefault:"snmp.notifications"`
}

// LoadConfig parses the environment, every variable prefixed with prefix
// (for example "SNMPAGENT_").
func LoadConfig(prefix string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds a JSON logger writing to stdout.
func NewLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// EngineConfig resolves the boot store backend. The returned close
// function releases the backend and is never nil.
func (c Config) EngineConfig(logger *slog.Logger, reg prometheus.Registerer) (EngineConfig, func() error, error) {
	ec := EngineConfig{
		MaxMessageSize: c.MaxMessageSize,
		Logger:         logger,
		Registerer:     reg,
	}
	closeFn := func() error { return nil }
	if c.EngineID != "" {
		id, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(c.EngineID), "0x"))
		if err != nil {
			return EngineConfig{}, closeFn, fmt.Errorf("ENGINE_ID: %w", err)
		}
		if len(id) < 5 || len(id) > 32 {
			return EngineConfig{}, closeFn, fmt.Errorf("ENGINE_ID: length %d not in 5..32", len(id))
		}
		ec.EngineID = id
	}

	switch strings.ToLower(c.BootStore) {
	case "", "file":
		ec.BootStore = FileBootStore{Dir: c.StateDir}
	case "badger":
		store, err := NewBadgerBootStore(c.StateDir)
		if err != nil {
			return EngineConfig{}, closeFn, err
		}
		ec.BootStore = store
		closeFn = store.Close
	case "memory":
		ec.BootStore = NewMemoryBootStore()
	default:
		return EngineConfig{}, closeFn, fmt.Errorf("BOOT_STORE: unknown backend %q", c.BootStore)
	}

	switch strings.ToLower(c.AccessControl) {
	case "", "vacm":
		ec.AccessControlModel = ACM_MODEL_VACM
	case "none":
		ec.AccessControlModel = ACM_MODEL_NONE
	default:
		return EngineConfig{}, closeFn, fmt.Errorf("ACCESS_CONTROL: unknown model %q", c.AccessControl)
	}
	return ec, closeFn, nil
}

// Apply loads communities, users and contexts into the engine. With VACM
// every configured principal gets the "all" view (1.3.6.1) for reading and
// notifications; principals marked rw may also write.
func (c Config) Apply(e *Engine) error {
	vacm := e.VACM()
	if vacm != nil {
		vacm.AddViewFamily("all", []int{1, 3, 6, 1}, nil, true)
		vacm.AddAccess("ro", "", ContextMatchPrefix, SEC_MODEL_ANY, SECLEVEL_NOAUTH_NOPRIV, "all", "", "all")
		vacm.AddAccess("rw", "", ContextMatchPrefix, SEC_MODEL_ANY, SECLEVEL_NOAUTH_NOPRIV, "all", "all", "all")
	}
	group := func(fields []string, n int) string {
		if len(fields) > n && strings.EqualFold(fields[n], "rw") {
			return "rw"
		}
		return "ro"
	}

	if cm := e.Community(); cm != nil {
		for _, item := range c.Communities {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			fields := strings.Split(item, ":")
			if err := cm.AddCommunity(fields[0], fields[0], nil, ""); err != nil {
				return err
			}
			if vacm != nil {
				vacm.AddGroup(SEC_MODEL_SNMPv1, fields[0], group(fields, 1))
				vacm.AddGroup(SEC_MODEL_SNMPv2c, fields[0], group(fields, 1))
			}
		}
	}

	if usm := e.USM(); usm != nil {
		for _, item := range c.Users {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			fields := strings.Split(item, ":")
			for len(fields) < 5 {
				fields = append(fields, "")
			}
			u, err := NewUsmUser(fields[0], fields[1], fields[2], fields[3], fields[4])
			if err != nil {
				return err
			}
			if err := usm.AddUser(u); err != nil {
				return err
			}
			if vacm != nil {
				vacm.AddGroup(SEC_MODEL_USM, u.Name, group(fields, 5))
			}
		}
	}

	for _, name := range c.Contexts {
		e.RegisterContext(strings.TrimSpace(name))
	}
	return nil
}
