// Package config loads nimbusctl settings. Values are layered as
// defaults then NIMBUS_* environment variables, decoded with mapstructure
// and checked with validator.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/forest6511/nimbusvault/pkg/crypto"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nested keys: NIMBUS_TRASH__RETENTION sets trash.retention.
const EnvPrefix = "NIMBUS_"

// Cache backends.
const (
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// Config is the merged runtime configuration.
type Config struct {
	DataDir      string `koanf:"data_dir" validate:"required,safepath"`
	WeatherFile  string `koanf:"weather_file" validate:"required,basename"`
	AuditEnabled bool   `koanf:"audit_enabled"`
	// AuditRetention prunes older audit records. Zero keeps everything.
	AuditRetention time.Duration    `koanf:"audit_retention" validate:"gte=0"`
	OpTimeout      time.Duration    `koanf:"op_timeout" validate:"gt=0"`
	IdleLock       time.Duration    `koanf:"idle_lock" validate:"gte=0"`
	Trash          TrashConfig      `koanf:"trash"`
	Cache          CacheConfig      `koanf:"cache"`
	KDF            crypto.KDFParams `koanf:"kdf"`
	Redis          RedisConfig      `koanf:"redis"`
	S3             S3Config         `koanf:"s3"`
	HTTP           HTTPConfig       `koanf:"http"`
	Log            LogConfig        `koanf:"log"`
}

type TrashConfig struct {
	Retention     time.Duration `koanf:"retention" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gte=1s"`
}

type CacheConfig struct {
	TTL     time.Duration `koanf:"ttl" validate:"gt=0"`
	Backend string        `koanf:"backend" validate:"oneof=sqlite redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0,lte=15"`
}

type S3Config struct {
	Endpoint  string `koanf:"endpoint" validate:"omitempty,url"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"listen_addr"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// DefaultAppConfig holds the defaults every load starts from.
var DefaultAppConfig = Config{
	DataDir:        defaultDataDir(),
	WeatherFile:    "weather.db",
	AuditEnabled:   true,
	AuditRetention: 365 * 24 * time.Hour,
	OpTimeout:      5 * time.Second,
	Trash: TrashConfig{
		Retention:     30 * 24 * time.Hour,
		SweepInterval: time.Hour,
	},
	Cache: CacheConfig{
		TTL:     3 * time.Hour,
		Backend: CacheSQLite,
	},
	KDF:   crypto.DefaultKDFParams(),
	Redis: RedisConfig{Addr: "127.0.0.1:6379"},
	S3:    S3Config{Region: "us-east-1"},
	HTTP:  HTTPConfig{Addr: "127.0.0.1:8787"},
	Log:   LogConfig{Level: "info", Format: "text"},
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nimbusvault"
	}
	return filepath.Join(home, ".nimbusvault")
}

// VaultFileName is the vault database name inside DataDir.
const VaultFileName = "vault.db"

// VaultPath returns the vault database path.
func (c *Config) VaultPath() string { return filepath.Join(c.DataDir, VaultFileName) }

// WeatherPath returns the weather store path.
func (c *Config) WeatherPath() string { return filepath.Join(c.DataDir, c.WeatherFile) }

// AuditDir returns the audit log directory.
func (c *Config) AuditDir() string { return filepath.Join(c.DataDir, "audit") }

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil)
}

// envKey maps NIMBUS_CACHE__TTL to cache.ttl.
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.ReplaceAll(k, "__", "."), v
}

var registerValidators = func(v *validator.Validate) error {
	for tag, fn := range map[string]validator.Func{
		"safepath":    validSafePath,
		"listen_addr": validListenAddr,
		"basename":    validBaseName,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	v.RegisterStructValidation(validateKDF, crypto.KDFParams{})
	return nil
}

// Load builds the configuration from defaults and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("config: register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, describe(err)
	}
	if cfg.Cache.Backend == CacheRedis && cfg.Redis.Addr == "" {
		return nil, errors.New("config: redis.addr is required when cache.backend is redis")
	}
	return &cfg, nil
}

// describe turns validator errors into one message naming each key.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// validSafePath rejects empty, root and parent-escaping paths.
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	clean := filepath.Clean(p)
	if clean == "." || clean == string(filepath.Separator) {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// validListenAddr accepts host:port where host is empty, an IP literal or
// "localhost", and port is 1-65535.
func validListenAddr(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	if strings.TrimSpace(addr) != addr {
		return false
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// validBaseName accepts a bare file name.
func validBaseName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// kdfMemoryOK requires at least 8 MiB and at most 4 GiB of Argon2 memory.
func kdfMemoryOK(kib uint32) bool {
	return kib >= 8*1024 && kib <= 4*1024*1024
}

func validateKDF(sl validator.StructLevel) {
	p := sl.Current().Interface().(crypto.KDFParams)
	if p.Time < 1 {
		sl.ReportError(p.Time, "Time", "time", "gte", "1")
	}
	if p.Threads < 1 {
		sl.ReportError(p.Threads, "Threads", "threads", "gte", "1")
	}
	if !kdfMemoryOK(p.MemoryKiB) {
		sl.ReportError(p.MemoryKiB, "MemoryKiB", "memory_kib", "kdfmemory", "")
	}
}
