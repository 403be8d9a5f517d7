// Package config builds the immutable process configuration once at
// startup. Nothing outside this package reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "AIDCORE_"

// Defaults applied when the corresponding variable is unset.
const (
	DefaultAddr       = ":8080"
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultResetTTL   = time.Hour
	DefaultVerifyTTL  = 24 * time.Hour
)

// TokenSecrets holds one signing secret per credential kind. Access and
// refresh secrets must differ so a leaked access token can never be
// replayed against the refresh endpoint.
type TokenSecrets struct {
	Access  []byte
	Refresh []byte
	Reset   []byte
	Verify  []byte
}

// Config is constructed once in main and passed by value into the
// components that need it.
type Config struct {
	Addr     string
	GRPCAddr string
	PGDSN    string

	Issuer  string
	Secrets TokenSecrets

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	VerifyTTL  time.Duration

	RatePerSecond int
	RateBurst     int
	MaxBodyBytes  int64
}

// FromEnv reads AIDCORE_* variables and validates the result.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:          getenv("ADDR", DefaultAddr),
		GRPCAddr:      getenv("GRPC_ADDR", ""),
		PGDSN:         getenv("PG_DSN", ""),
		Issuer:        getenv("ISSUER", "aidcore"),
		RatePerSecond: 50,
		RateBurst:     100,
		MaxBodyBytes:  1 << 20,
	}

	cfg.Secrets = TokenSecrets{
		Access:  []byte(getenv("ACCESS_SECRET", "")),
		Refresh: []byte(getenv("REFRESH_SECRET", "")),
		Reset:   []byte(getenv("RESET_SECRET", "")),
		Verify:  []byte(getenv("VERIFY_SECRET", "")),
	}
	if err := cfg.Secrets.validate(); err != nil {
		return Config{}, err
	}

	var err error
	if cfg.AccessTTL, err = getduration("ACCESS_TTL", DefaultAccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = getduration("REFRESH_TTL", DefaultRefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.ResetTTL, err = getduration("RESET_TTL", DefaultResetTTL); err != nil {
		return Config{}, err
	}
	if cfg.VerifyTTL, err = getduration("VERIFY_TTL", DefaultVerifyTTL); err != nil {
		return Config{}, err
	}

	if raw := getenv("RATE_PER_SECOND", ""); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("config: invalid %sRATE_PER_SECOND %q", envPrefix, raw)
		}
		cfg.RatePerSecond = v
	}
	if raw := getenv("RATE_BURST", ""); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("config: invalid %sRATE_BURST %q", envPrefix, raw)
		}
		cfg.RateBurst = v
	}

	return cfg, nil
}

func (s TokenSecrets) validate() error {
	if len(s.Access) == 0 || len(s.Refresh) == 0 {
		return errors.New("config: access and refresh signing secrets are required")
	}
	if string(s.Access) == string(s.Refresh) {
		return errors.New("config: access and refresh signing secrets must differ")
	}
	// Reset and verify flows are optional; each is simply disabled
	// when its secret is unset.
	return nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return def
	}
	return v
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid %s%s %q", envPrefix, key, raw)
	}
	return d, nil
}
