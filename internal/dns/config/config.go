package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds the server configuration. Values come from defaults, then
// DNS_* environment variables, then the first command line argument (the mode).
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Host is the IP address the UDP socket binds to.
	Host string `koanf:"host" validate:"required,ip"`

	// Port is the UDP port the fault server binds to.
	Port int `koanf:"port" validate:"required,gte=1,lte=65535"`

	// Mode names the fault injected into every response. It is deliberately not
	// validated: unknown names fall back to well-formed responses.
	Mode string `koanf:"mode"`

	// HistorySize bounds how many recent exchanges are kept in memory.
	HistorySize uint `koanf:"history_size" validate:"required,gte=1"`
}

// DEFAULT_APP_CONFIG defines the defaults: production logging at info, all
// interfaces on port 5300, well-formed responses.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:         "prod",
	LogLevel:    "info",
	Host:        "0.0.0.0",
	Port:        5300,
	Mode:        "good",
	HistorySize: 256,
}

// Address returns the host:port the server binds to.
func (c *AppConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// envLoader loads environment variables with the prefix "DNS_", lowercasing
// keys and stripping the prefix. It can be replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "DNS_",
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, "DNS_")), strings.TrimSpace(value)
		},
	}), nil)
}

// argsLoader maps the first positional argument onto the mode key. Extra
// arguments are ignored.
var argsLoader = func(k *koanf.Koanf, args []string) error {
	if len(args) == 0 {
		return nil
	}
	return k.Load(confmap.Provider(map[string]any{
		"mode": strings.TrimSpace(args[0]),
	}, "."), nil)
}

// Load builds an AppConfig from defaults, environment and args (os.Args[1:]),
// in increasing order of priority, and validates it.
func Load(args []string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	if err := argsLoader(k, args); err != nil {
		return nil, fmt.Errorf("error loading arguments: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
