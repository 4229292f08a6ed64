package sqlpool

import (
	"log/slog"
	"time"
)

// Config configures a Pool. Zero-valued fields take the defaults documented
// on each field; PoolMin, PoolInit, IdleTimeout, and HealthcheckOnAcquire
// use a pointer so "not set" can be distinguished from the Go zero value.
type Config struct {
	// PoolMin is the minimum number of sessions the pool tries to keep
	// open. Default: 10. A pointer because 0 is a valid minimum pool size
	// and must be distinguishable from "not set" — the same treatment
	// IdleTimeout already gets below.
	PoolMin *int

	// PoolMax is the maximum number of sessions the pool will ever hold.
	// Default: 20.
	PoolMax int

	// PoolInit, if set, is the number of sessions opened at construction
	// time. It must satisfy PoolMin <= *PoolInit <= PoolMax. If nil, the
	// pool opens max(PoolMin, 0) sessions (i.e. PoolMin).
	PoolInit *int

	// CleanupInterval is how often the janitor runs a cleanup cycle.
	// Default: 60s. Mutable after construction via Pool.SetCleanupInterval.
	CleanupInterval time.Duration

	// IdleTimeout is the minimum idle age, since a member's last touch,
	// before it becomes an idle-trim candidate. Default: 300s. Mutable
	// after construction via Pool.SetIdleTimeout. A pointer because 0 is a
	// legitimate, tested setting (it makes every free member idle-trim
	// eligible) and must be distinguishable from "not set".
	IdleTimeout *time.Duration

	// HealthcheckOnAcquire toggles the acquire-time probe. If nil,
	// defaults to true.
	HealthcheckOnAcquire *bool

	// HealthcheckCallback is the probe run against candidate sessions. If
	// nil, defaults to StandardProbe.
	HealthcheckCallback HealthProbe

	// Logger receives structured log records for dead-connection sweeps,
	// refill failures, and leaked handles. If nil, defaults to
	// slog.Default(). Unexpected healthcheck errors and probe panics are
	// logged to slog.Default(), not to this logger.
	Logger *slog.Logger
}

const (
	defaultPoolMin         = 10
	defaultPoolMax         = 20
	defaultCleanupInterval = 60 * time.Second
	defaultIdleTimeout     = 300 * time.Second
)

// resolvedConfig is Config after defaulting and validation, with PoolInit
// collapsed to a concrete count.
type resolvedConfig struct {
	poolMin              int
	poolMax              int
	poolInit             int
	cleanupInterval      time.Duration
	idleTimeout          time.Duration
	healthcheckOnAcquire bool
	healthcheckCallback  HealthProbe
	logger               *slog.Logger
}

func resolveConfig(cfg Config) (resolvedConfig, error) {
	r := resolvedConfig{
		poolMin:              defaultPoolMin,
		poolMax:              cfg.PoolMax,
		cleanupInterval:      cfg.CleanupInterval,
		idleTimeout:          defaultIdleTimeout,
		healthcheckOnAcquire: true,
		healthcheckCallback:  cfg.HealthcheckCallback,
		logger:               cfg.Logger,
	}

	if cfg.PoolMin != nil {
		r.poolMin = *cfg.PoolMin
	}
	if r.poolMax == 0 {
		r.poolMax = defaultPoolMax
	}
	if r.cleanupInterval == 0 {
		r.cleanupInterval = defaultCleanupInterval
	}
	if cfg.IdleTimeout != nil {
		r.idleTimeout = *cfg.IdleTimeout
	}
	if cfg.HealthcheckOnAcquire != nil {
		r.healthcheckOnAcquire = *cfg.HealthcheckOnAcquire
	}
	if r.healthcheckCallback == nil {
		r.healthcheckCallback = StandardProbe
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	if r.poolMin < 0 {
		return r, ErrInvalidParameter
	}
	if r.poolMax < 1 {
		return r, ErrInvalidParameter
	}
	if r.poolMax < r.poolMin {
		return r, ErrInvalidParameter
	}
	if cfg.PoolInit != nil {
		if *cfg.PoolInit < r.poolMin || *cfg.PoolInit > r.poolMax {
			return r, ErrInvalidParameter
		}
		r.poolInit = *cfg.PoolInit
	} else {
		r.poolInit = r.poolMin
	}
	if r.cleanupInterval <= 0 {
		return r, ErrInvalidParameter
	}
	if r.idleTimeout < 0 {
		return r, ErrInvalidParameter
	}

	return r, nil
}
