package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. PASSPORT_JWT_ACCESS_SECRET
const EnvPrefix = "PASSPORT"

const (
	defaultAccessSecret  = "change-me-access"
	defaultRefreshSecret = "change-me-refresh"
)

// Config is the full runtime configuration
type Config struct {
	Env      string         `mapstructure:"env"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Session  SessionConfig  `mapstructure:"session"`
	WebAuthn WebAuthnConfig `mapstructure:"webauthn"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"` // memory, sqlite or postgres
	DSN        string `mapstructure:"dsn"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

// RedisConfig is optional. With a URL, challenges and session events go
// through Redis.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type JWTConfig struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	Issuer        string        `mapstructure:"issuer"`
}

type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type WebAuthnConfig struct {
	RPID         string        `mapstructure:"rp_id"`
	RPName       string        `mapstructure:"rp_name"`
	RPOrigins    []string      `mapstructure:"rp_origins"`
	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`
}

// ChainConfig is optional. Without an RPC URL contract identities are kept
// off-chain only.
type ChainConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	Contract            string        `mapstructure:"contract"`
	PrivateKey          string        `mapstructure:"private_key"`
	GasMultiplier       string        `mapstructure:"gas_multiplier"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	FallbackEmailDomain string        `mapstructure:"fallback_email_domain"`
}

// Enabled reports whether a chain endpoint is configured
func (c ChainConfig) Enabled() bool {
	return c.RPCURL != ""
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
	Trace bool `mapstructure:"trace"`
}

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http.addr", ":9000")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.bcrypt_cost", 0)

	v.SetDefault("redis.url", "")

	v.SetDefault("jwt.access_secret", defaultAccessSecret)
	v.SetDefault("jwt.refresh_secret", defaultRefreshSecret)
	v.SetDefault("jwt.access_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("jwt.issuer", "passport")

	v.SetDefault("session.ttl", 7*24*time.Hour)
	v.SetDefault("session.sweep_interval", 10*time.Minute)

	v.SetDefault("webauthn.rp_id", "localhost")
	v.SetDefault("webauthn.rp_name", "Passport")
	v.SetDefault("webauthn.rp_origins", []string{"http://localhost:9000"})
	v.SetDefault("webauthn.challenge_ttl", 5*time.Minute)

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.contract", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.gas_multiplier", "1.2")
	v.SetDefault("chain.call_timeout", 30*time.Second)
	v.SetDefault("chain.probe_timeout", 2*time.Second)
	v.SetDefault("chain.poll_interval", time.Second)
	v.SetDefault("chain.fallback_email_domain", "contract.passport.local")

	v.SetDefault("log.debug", false)
	v.SetDefault("log.trace", false)
}

// Load reads configuration from defaults, an optional file and PASSPORT_*
// environment variables, in increasing precedence
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("jwt secrets are required"))
	}
	if c.JWT.AccessSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("jwt access and refresh secrets must differ"))
	}
	if c.Env == "production" && (c.JWT.AccessSecret == defaultAccessSecret || c.JWT.RefreshSecret == defaultRefreshSecret) {
		errs = append(errs, errors.New("default jwt secrets are not allowed in production"))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store driver %q", c.Store.Driver))
	}

	if c.WebAuthn.RPID == "" || len(c.WebAuthn.RPOrigins) == 0 {
		errs = append(errs, errors.New("webauthn rp_id and rp_origins are required"))
	}

	if c.Chain.Enabled() && c.Chain.Contract == "" {
		errs = append(errs, errors.New("chain.contract is required with chain.rpc_url"))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("session.sweep_interval must be positive"))
	}

	return errors.Join(errs...)
}
