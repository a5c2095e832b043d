// Package dosgate provides configuration loading.
package dosgate

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadOptions controls config loading.
type LoadOptions struct {
	ConfigPath string
	Args       []string
	Environ    []string
}

// LoadConfig layers defaults, file, environment, and flag overrides.
func LoadConfig(opts LoadOptions) (*Config, error) {
	args := opts.Args
	if args == nil {
		args = os.Args[1:]
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	flagOverrides, err := parseFlagOverrides(args)
	if err != nil {
		return nil, err
	}

	configPath := opts.ConfigPath
	if flagOverrides.ConfigPath != nil {
		configPath = *flagOverrides.ConfigPath
	}

	cfg := defaultConfig()
	if configPath != "" {
		fileOverrides, err := loadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		applyConfigOverrides(cfg, fileOverrides)
	}
	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg, flagOverrides)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		IDType:               IDTypeRemoteAddress,
		MaxRequestsPerSecond: defaultMaxRPS,
		MaxTrackers:          defaultMaxTrackers,
		SamplePeriod:         defaultSamplePeriod,
		Alpha:                defaultAlpha,
		RejectMode:           RejectModeDelayed,
		Delay:                defaultRejectDelay,
		MaxDelayQueue:        defaultMaxDelayQueue,
		RejectStatus:         StatusEnhanceYourCalm,
		HTTPListenAddr:       ":8080",
		HTTPReadTimeout:      5 * time.Second,
		HTTPWriteTimeout:     0,
		HTTPIdleTimeout:      60 * time.Second,
		DrainTimeout:         5 * time.Second,
		EnableProm:           true,
		StatsPrefix:          "dosgate:stats",
	}
}

type configOverrides struct {
	IDType               *string  `yaml:"id_type"`
	MaxRequestsPerSecond *int     `yaml:"max_requests_per_second"`
	MaxTrackers          *int     `yaml:"max_trackers"`
	SamplePeriodMs       *int     `yaml:"sample_period_ms"`
	Alpha                *float64 `yaml:"alpha"`
	RejectMode           *string  `yaml:"reject_mode"`
	DelayMs              *int     `yaml:"delay_ms"`
	MaxDelayQueue        *int     `yaml:"max_delay_queue"`
	RejectStatus         *int     `yaml:"reject_status"`

	HTTPListenAddr   *string        `yaml:"http_listen_addr"`
	UpstreamURL      *string        `yaml:"upstream_url"`
	HTTPReadTimeout  *durationValue `yaml:"http_read_timeout"`
	HTTPWriteTimeout *durationValue `yaml:"http_write_timeout"`
	HTTPIdleTimeout  *durationValue `yaml:"http_idle_timeout"`
	DrainTimeout     *durationValue `yaml:"drain_timeout"`

	LogLevel    *string `yaml:"log_level"`
	EnableProm  *bool   `yaml:"enable_prom"`
	RedisAddr   *string `yaml:"redis_addr"`
	StatsPrefix *string `yaml:"stats_prefix"`
}

// durationValue decodes either a duration string ("250ms") or an integer
// millisecond count.
type durationValue time.Duration

// UnmarshalYAML decodes the duration value.
func (d *durationValue) UnmarshalYAML(value *yaml.Node) error {
	var millis int64
	if err := value.Decode(&millis); err == nil {
		*d = durationValue(time.Duration(millis) * time.Millisecond)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("%w: expected duration string or milliseconds", ErrInvalidConfig)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, raw, err)
	}
	*d = durationValue(parsed)
	return nil
}

func loadConfigFile(path string) (*configOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	overrides := &configOverrides{}
	if err := yaml.Unmarshal(data, overrides); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return overrides, nil
}

func applyConfigOverrides(cfg *Config, overrides *configOverrides) {
	if cfg == nil || overrides == nil {
		return
	}
	if overrides.IDType != nil {
		cfg.IDType = *overrides.IDType
	}
	if overrides.MaxRequestsPerSecond != nil {
		cfg.MaxRequestsPerSecond = *overrides.MaxRequestsPerSecond
	}
	if overrides.MaxTrackers != nil {
		cfg.MaxTrackers = *overrides.MaxTrackers
	}
	if overrides.SamplePeriodMs != nil {
		cfg.SamplePeriod = time.Duration(*overrides.SamplePeriodMs) * time.Millisecond
	}
	if overrides.Alpha != nil {
		cfg.Alpha = *overrides.Alpha
	}
	if overrides.RejectMode != nil {
		cfg.RejectMode = *overrides.RejectMode
	}
	if overrides.DelayMs != nil {
		cfg.Delay = time.Duration(*overrides.DelayMs) * time.Millisecond
	}
	if overrides.MaxDelayQueue != nil {
		cfg.MaxDelayQueue = *overrides.MaxDelayQueue
	}
	if overrides.RejectStatus != nil {
		cfg.RejectStatus = *overrides.RejectStatus
	}
	if overrides.HTTPListenAddr != nil {
		cfg.HTTPListenAddr = *overrides.HTTPListenAddr
	}
	if overrides.UpstreamURL != nil {
		cfg.UpstreamURL = *overrides.UpstreamURL
	}
	if overrides.HTTPReadTimeout != nil {
		cfg.HTTPReadTimeout = time.Duration(*overrides.HTTPReadTimeout)
	}
	if overrides.HTTPWriteTimeout != nil {
		cfg.HTTPWriteTimeout = time.Duration(*overrides.HTTPWriteTimeout)
	}
	if overrides.HTTPIdleTimeout != nil {
		cfg.HTTPIdleTimeout = time.Duration(*overrides.HTTPIdleTimeout)
	}
	if overrides.DrainTimeout != nil {
		cfg.DrainTimeout = time.Duration(*overrides.DrainTimeout)
	}
	if overrides.LogLevel != nil {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.EnableProm != nil {
		cfg.EnableProm = *overrides.EnableProm
	}
	if overrides.RedisAddr != nil {
		cfg.RedisAddr = *overrides.RedisAddr
	}
	if overrides.StatsPrefix != nil {
		cfg.StatsPrefix = *overrides.StatsPrefix
	}
}

func applyEnvOverrides(cfg *Config, environ []string) error {
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, "DOSGATE_") {
			continue
		}
		switch key {
		case "DOSGATE_ID_TYPE":
			cfg.IDType = value
		case "DOSGATE_MAX_RPS":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			cfg.MaxRequestsPerSecond = parsed
		case "DOSGATE_MAX_TRACKERS":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			cfg.MaxTrackers = parsed
		case "DOSGATE_SAMPLE_PERIOD_MS":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			cfg.SamplePeriod = time.Duration(parsed) * time.Millisecond
		case "DOSGATE_ALPHA":
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			cfg.Alpha = parsed
		case "DOSGATE_REJECT_MODE":
			cfg.RejectMode = value
		case "DOSGATE_DELAY_MS":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			cfg.Delay = time.Duration(parsed) * time.Millisecond
		case "DOSGATE_MAX_DELAY_QUEUE":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			cfg.MaxDelayQueue = parsed
		case "DOSGATE_REJECT_STATUS":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			cfg.RejectStatus = parsed
		case "DOSGATE_HTTP_ADDR":
			cfg.HTTPListenAddr = value
		case "DOSGATE_UPSTREAM_URL":
			cfg.UpstreamURL = value
		case "DOSGATE_LOG_LEVEL":
			cfg.LogLevel = value
		case "DOSGATE_ENABLE_PROM":
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			cfg.EnableProm = parsed
		case "DOSGATE_REDIS_ADDR":
			cfg.RedisAddr = value
		case "DOSGATE_STATS_PREFIX":
			cfg.StatsPrefix = value
		}
	}
	return nil
}

type flagOverrides struct {
	ConfigPath           *string
	IDType               *string
	MaxRequestsPerSecond *int
	MaxTrackers          *int
	SamplePeriodMs       *int
	Alpha                *float64
	RejectMode           *string
	DelayMs              *int
	MaxDelayQueue        *int
	RejectStatus         *int
	HTTPListenAddr       *string
	UpstreamURL          *string
	LogLevel             *string
	EnableProm           *bool
	RedisAddr            *string
}

func parseFlagOverrides(args []string) (*flagOverrides, error) {
	fs := flag.NewFlagSet("dosgate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "config file path")
	idType := fs.String("id_type", "", "identity policy")
	maxRPS := fs.Int("max_rps", 0, "max requests per second per identity")
	maxTrackers := fs.Int("max_trackers", 0, "max tracked identities")
	samplePeriodMs := fs.Int("sample_period_ms", 0, "estimator sample period in ms")
	alpha := fs.Float64("alpha", 0, "estimator smoothing factor")
	rejectMode := fs.String("reject_mode", "", "rejection mode (delayed or immediate)")
	delayMs := fs.Int("delay_ms", 0, "delayed rejection hold in ms")
	maxDelayQueue := fs.Int("max_delay_queue", 0, "max delayed rejections held")
	rejectStatus := fs.Int("reject_status", 0, "rejection HTTP status")
	httpAddr := fs.String("http_addr", "", "http listen address")
	upstream := fs.String("upstream", "", "upstream url to proxy")
	logLevel := fs.String("log_level", "", "log level")
	enableProm := fs.Bool("enable_prom", false, "serve prometheus metrics")
	redisAddr := fs.String("redis_addr", "", "redis address for the stats sink")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	overrides := &flagOverrides{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			overrides.ConfigPath = configPath
		case "id_type":
			overrides.IDType = idType
		case "max_rps":
			overrides.MaxRequestsPerSecond = maxRPS
		case "max_trackers":
			overrides.MaxTrackers = maxTrackers
		case "sample_period_ms":
			overrides.SamplePeriodMs = samplePeriodMs
		case "alpha":
			overrides.Alpha = alpha
		case "reject_mode":
			overrides.RejectMode = rejectMode
		case "delay_ms":
			overrides.DelayMs = delayMs
		case "max_delay_queue":
			overrides.MaxDelayQueue = maxDelayQueue
		case "reject_status":
			overrides.RejectStatus = rejectStatus
		case "http_addr":
			overrides.HTTPListenAddr = httpAddr
		case "upstream":
			overrides.UpstreamURL = upstream
		case "log_level":
			overrides.LogLevel = logLevel
		case "enable_prom":
			overrides.EnableProm = enableProm
		case "redis_addr":
			overrides.RedisAddr = redisAddr
		}
	})
	return overrides, nil
}

func applyFlagOverrides(cfg *Config, overrides *flagOverrides) {
	if cfg == nil || overrides == nil {
		return
	}
	if overrides.IDType != nil {
		cfg.IDType = *overrides.IDType
	}
	if overrides.MaxRequestsPerSecond != nil {
		cfg.MaxRequestsPerSecond = *overrides.MaxRequestsPerSecond
	}
	if overrides.MaxTrackers != nil {
		cfg.MaxTrackers = *overrides.MaxTrackers
	}
	if overrides.SamplePeriodMs != nil {
		cfg.SamplePeriod = time.Duration(*overrides.SamplePeriodMs) * time.Millisecond
	}
	if overrides.Alpha != nil {
		cfg.Alpha = *overrides.Alpha
	}
	if overrides.RejectMode != nil {
		cfg.RejectMode = *overrides.RejectMode
	}
	if overrides.DelayMs != nil {
		cfg.Delay = time.Duration(*overrides.DelayMs) * time.Millisecond
	}
	if overrides.MaxDelayQueue != nil {
		cfg.MaxDelayQueue = *overrides.MaxDelayQueue
	}
	if overrides.RejectStatus != nil {
		cfg.RejectStatus = *overrides.RejectStatus
	}
	if overrides.HTTPListenAddr != nil {
		cfg.HTTPListenAddr = *overrides.HTTPListenAddr
	}
	if overrides.UpstreamURL != nil {
		cfg.UpstreamURL = *overrides.UpstreamURL
	}
	if overrides.LogLevel != nil {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.EnableProm != nil {
		cfg.EnableProm = *overrides.EnableProm
	}
	if overrides.RedisAddr != nil {
		cfg.RedisAddr = *overrides.RedisAddr
	}
}
