package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HKG_LOG_LEVEL.
const EnvPrefix = "HKG"

// Keys bound to flags and HKG_* environment variables.
const (
	KeyHome           = "home"
	KeyLogLevel       = "log-level"
	KeyFetchTimeout   = "fetch-timeout"
	KeyFetchRetries   = "fetch-retries"
	KeyMaxArchiveSize = "max-archive-size"
	KeyCompression    = "compression"
	KeyLockTimeout    = "lock-timeout"
)

// Runtime holds settings that come from flags and the environment rather
// than the settings file.
type Runtime struct {
	Home           string
	LogLevel       string
	FetchTimeout   time.Duration
	FetchRetries   int
	MaxArchiveSize int64
	// Compression overrides Options.Compression when set.
	Compression string
	// LockTimeout bounds the wait for another process holding the data root
	// lock. Zero waits until interrupted.
	LockTimeout time.Duration
}

// NewViper returns a viper instance reading HKG_* environment variables,
// with dashes in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyFetchTimeout, 2*time.Minute)
	v.SetDefault(KeyFetchRetries, 0)
	v.SetDefault(KeyMaxArchiveSize, int64(512<<20))
	v.SetDefault(KeyLockTimeout, time.Minute)
	return v
}

// BindFlags lets flags in fs override the environment for the known keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, key := range []string{KeyHome, KeyLogLevel, KeyFetchTimeout, KeyFetchRetries, KeyMaxArchiveSize, KeyCompression, KeyLockTimeout} {
		flag := fs.Lookup(key)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", key, err)
		}
	}
	return nil
}

// LoadEnvFile loads KEY=value lines from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ReadRuntime reads the runtime settings from v. An unset home falls back to
// the user's home directory.
func ReadRuntime(v *viper.Viper) (Runtime, error) {
	rt := Runtime{
		Home:           v.GetString(KeyHome),
		LogLevel:       v.GetString(KeyLogLevel),
		FetchTimeout:   v.GetDuration(KeyFetchTimeout),
		FetchRetries:   v.GetInt(KeyFetchRetries),
		MaxArchiveSize: v.GetInt64(KeyMaxArchiveSize),
		Compression:    v.GetString(KeyCompression),
		LockTimeout:    v.GetDuration(KeyLockTimeout),
	}
	if rt.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Runtime{}, fmt.Errorf("locating home directory: %w", err)
		}
		rt.Home = home
	}
	if rt.FetchRetries < 0 {
		return Runtime{}, fmt.Errorf("%s must not be negative", KeyFetchRetries)
	}
	if rt.LockTimeout < 0 {
		return Runtime{}, fmt.Errorf("%s must not be negative", KeyLockTimeout)
	}
	if rt.MaxArchiveSize <= 0 {
		return Runtime{}, fmt.Errorf("%s must be positive", KeyMaxArchiveSize)
	}
	return rt, nil
}
