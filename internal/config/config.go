package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	BackendOpenPGP  = "openpgp"
	BackendEnvelope = "envelope"

	defaultBackend          = BackendOpenPGP
	defaultVaultFile        = "vault.gpg"
	defaultKeyfile          = "keyfile.asc"
	defaultArgon2MemoryKiB  = 256 * 1024
	defaultArgon2Iterations = 3
	defaultLogLevel         = "info"
	defaultLogMaxSizeMB     = 10
	defaultLogMaxFiles      = 5
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Vault    VaultConfig    `toml:"vault"`
	GnuPG    GnuPGConfig    `toml:"gnupg"`
	Envelope EnvelopeConfig `toml:"envelope"`
	Logging  LoggingConfig  `toml:"logging"`
}

type VaultConfig struct {
	Path      string `toml:"path"`
	Recipient string `toml:"recipient"`
	Backend   string `toml:"backend"`
}

// GnuPGConfig locates the exported key material imported at startup.
type GnuPGConfig struct {
	Home    string `toml:"home"`
	Keyfile string `toml:"keyfile"`
}

type EnvelopeConfig struct {
	Argon2MemoryKiB  uint32 `toml:"argon2_memory_kib"`
	Argon2Iterations uint32 `toml:"argon2_iterations"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	VaultPath *string
	Recipient *string
	Backend   *string
}

// KeyfilePath resolves gnupg.keyfile against gnupg.home. It is empty when the
// keyfile is explicitly set to "".
func (c Config) KeyfilePath() string {
	if c.GnuPG.Keyfile == "" {
		return ""
	}
	if filepath.IsAbs(c.GnuPG.Keyfile) {
		return c.GnuPG.Keyfile
	}
	return filepath.Join(c.GnuPG.Home, c.GnuPG.Keyfile)
}

func DefaultConfig() Config {
	return Config{
		Vault: VaultConfig{
			Backend: defaultBackend,
		},
		GnuPG: GnuPGConfig{
			Keyfile: defaultKeyfile,
		},
		Envelope: EnvelopeConfig{
			Argon2MemoryKiB:  defaultArgon2MemoryKiB,
			Argon2Iterations: defaultArgon2Iterations,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load applies defaults, then the TOML file, then GPGVAULT_* environment
// variables, then flags.
func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()
	if err := applyDefaultPaths(&cfg, opts); err != nil {
		return Config{}, err
	}

	configPath, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadAndApplyFile(configPath, &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	cfg.Vault.Path = expandHome(cfg.Vault.Path)
	cfg.GnuPG.Home = expandHome(cfg.GnuPG.Home)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type rawConfig struct {
	Vault    *rawVault    `toml:"vault"`
	GnuPG    *rawGnuPG    `toml:"gnupg"`
	Envelope *rawEnvelope `toml:"envelope"`
	Logging  *rawLogging  `toml:"logging"`
}

type rawVault struct {
	Path      *string `toml:"path"`
	Recipient *string `toml:"recipient"`
	Backend   *string `toml:"backend"`
}

type rawGnuPG struct {
	Home    *string `toml:"home"`
	Keyfile *string `toml:"keyfile"`
}

type rawEnvelope struct {
	Argon2MemoryKiB  *uint32 `toml:"argon2_memory_kib"`
	Argon2Iterations *uint32 `toml:"argon2_iterations"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}
	applyRawConfig(cfg, raw)
	return nil
}

func applyRawConfig(cfg *Config, raw rawConfig) {
	if raw.Vault != nil {
		set(raw.Vault.Path, &cfg.Vault.Path)
		set(raw.Vault.Recipient, &cfg.Vault.Recipient)
		set(raw.Vault.Backend, &cfg.Vault.Backend)
	}
	if raw.GnuPG != nil {
		set(raw.GnuPG.Home, &cfg.GnuPG.Home)
		set(raw.GnuPG.Keyfile, &cfg.GnuPG.Keyfile)
	}
	if raw.Envelope != nil {
		set(raw.Envelope.Argon2MemoryKiB, &cfg.Envelope.Argon2MemoryKiB)
		set(raw.Envelope.Argon2Iterations, &cfg.Envelope.Argon2Iterations)
	}
	if raw.Logging != nil {
		set(raw.Logging.Level, &cfg.Logging.Level)
		set(raw.Logging.File, &cfg.Logging.File)
		set(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		set(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "GPGVAULT_VAULT_PATH"); ok {
		cfg.Vault.Path = value
	}
	if value, ok := lookupEnv(opts, "GPGVAULT_RECIPIENT"); ok {
		cfg.Vault.Recipient = value
	}
	if value, ok := lookupEnv(opts, "GPGVAULT_BACKEND"); ok {
		cfg.Vault.Backend = value
	}

	if value, ok := lookupEnv(opts, "GPGVAULT_GNUPG_HOME"); ok {
		cfg.GnuPG.Home = value
	}
	if value, ok := lookupEnv(opts, "GPGVAULT_KEYFILE"); ok {
		cfg.GnuPG.Keyfile = value
	}

	if value, ok := lookupEnv(opts, "GPGVAULT_ARGON2_MEMORY_KIB"); ok {
		parsed, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: parse GPGVAULT_ARGON2_MEMORY_KIB: %v", ErrInvalidConfig, err)
		}
		cfg.Envelope.Argon2MemoryKiB = uint32(parsed)
	}
	if value, ok := lookupEnv(opts, "GPGVAULT_ARGON2_ITERATIONS"); ok {
		parsed, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: parse GPGVAULT_ARGON2_ITERATIONS: %v", ErrInvalidConfig, err)
		}
		cfg.Envelope.Argon2Iterations = uint32(parsed)
	}

	if value, ok := lookupEnv(opts, "GPGVAULT_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "GPGVAULT_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := lookupEnv(opts, "GPGVAULT_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse GPGVAULT_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := lookupEnv(opts, "GPGVAULT_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse GPGVAULT_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}
	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	set(flags.VaultPath, &cfg.Vault.Path)
	set(flags.Recipient, &cfg.Vault.Recipient)
	set(flags.Backend, &cfg.Vault.Backend)
}

func validate(cfg Config) error {
	switch cfg.Vault.Backend {
	case BackendOpenPGP, BackendEnvelope:
	default:
		return fmt.Errorf("%w: vault.backend must be %q or %q, got %q", ErrInvalidConfig, BackendOpenPGP, BackendEnvelope, cfg.Vault.Backend)
	}
	if cfg.Vault.Path == "" {
		return fmt.Errorf("%w: vault.path is required", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not one of debug, info, warn, error", ErrInvalidConfig, cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB <= 0 || cfg.Logging.MaxFiles <= 0 {
		return fmt.Errorf("%w: logging.max_size_mb and logging.max_files must be > 0", ErrInvalidConfig)
	}
	if cfg.Envelope.Argon2Iterations == 0 || cfg.Envelope.Argon2MemoryKiB == 0 {
		return fmt.Errorf("%w: envelope argon2 parameters must be > 0", ErrInvalidConfig)
	}
	return nil
}

func set[T any](raw *T, target *T) {
	if raw != nil {
		*target = *raw
	}
}

func applyDefaultPaths(cfg *Config, opts LoadOptions) error {
	dataHome, err := gpgvaultHome(opts)
	if err != nil {
		return err
	}
	cfg.Vault.Path = filepath.Join(dataHome, defaultVaultFile)

	if value, ok := lookupEnv(opts, "GNUPGHOME"); ok && value != "" {
		cfg.GnuPG.Home = value
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve user home: %w", err)
	}
	cfg.GnuPG.Home = filepath.Join(home, ".gnupg")
	return nil
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "GPGVAULT_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath(opts)
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

func gpgvaultHome(opts LoadOptions) (string, error) {
	if value, ok := lookupEnv(opts, "GPGVAULT_HOME"); ok {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "gpgvault"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := lookupEnv(opts, "XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "gpgvault"), nil
}

func defaultConfigPath(opts LoadOptions) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "gpgvault", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := lookupEnv(opts, "XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "gpgvault", "config.toml"), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
