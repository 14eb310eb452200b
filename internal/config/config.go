// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/adaptive-crawler/internal/breaker"
	"github.com/JakeFAU/adaptive-crawler/internal/client"
	"github.com/JakeFAU/adaptive-crawler/internal/crawler"
	"github.com/JakeFAU/adaptive-crawler/internal/executor"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Client   ClientConfig   `mapstructure:"client"`
	Source   SourceConfig   `mapstructure:"source"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Executor ExecutorConfig `mapstructure:"executor"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig labels the job and its publish destination.
type CrawlerConfig struct {
	Project      string        `mapstructure:"project"`
	Topic        string        `mapstructure:"topic"`
	StatusWindow time.Duration `mapstructure:"status_window"`
}

// ClientConfig configures the HTTP transport.
type ClientConfig struct {
	Timeout   time.Duration     `mapstructure:"timeout"`
	ProxyURL  string            `mapstructure:"proxy_url"`
	UserAgent string            `mapstructure:"user_agent"`
	MaxBody   int64             `mapstructure:"max_body"`
	Headers   map[string]string `mapstructure:"headers"`
}

// SourceConfig describes the paginated endpoint to crawl.
type SourceConfig struct {
	BaseURL    string            `mapstructure:"base_url"`
	PageParam  string            `mapstructure:"page_param"`
	LimitParam string            `mapstructure:"limit_param"`
	Limit      int               `mapstructure:"limit"`
	StartPage  int               `mapstructure:"start_page"`
	MaxPages   int               `mapstructure:"max_pages"`
	Params     map[string]string `mapstructure:"params"`
	ListKey    string            `mapstructure:"list_key"`
	IDKey      string            `mapstructure:"id_key"`
}

// ThrottleConfig parameterizes the adaptive controller.
type ThrottleConfig struct {
	RateBase        float64 `mapstructure:"rate_base"`
	RateMin         float64 `mapstructure:"rate_min"`
	RateMax         float64 `mapstructure:"rate_max"`
	ConcurrencyBase float64 `mapstructure:"concurrency_base"`
	ConcurrencyMin  float64 `mapstructure:"concurrency_min"`
	ConcurrencyMax  float64 `mapstructure:"concurrency_max"`

	Temperature  float64 `mapstructure:"temperature"`
	StepIncrease float64 `mapstructure:"step_increase"`
	StepDecrease float64 `mapstructure:"step_decrease"`
	Threshold    float64 `mapstructure:"threshold"`

	StepDuration time.Duration `mapstructure:"step_duration"`
	Window       time.Duration `mapstructure:"window"`
	MaxHistory   time.Duration `mapstructure:"max_history"`

	BaselineDuration           time.Duration `mapstructure:"baseline_duration"`
	RateExploreDuration        time.Duration `mapstructure:"rate_explore_duration"`
	ConcurrencyExploreDuration time.Duration `mapstructure:"concurrency_explore_duration"`
	ExploitDuration            time.Duration `mapstructure:"exploit_duration"`

	K float64 `mapstructure:"k"`
	M float64 `mapstructure:"m"`
}

// BreakerConfig parameterizes the circuit breaker.
type BreakerConfig struct {
	BurnIn        time.Duration `mapstructure:"burn_in"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	HalfOpenDelay time.Duration `mapstructure:"half_open_delay"`

	ClosedWindow      time.Duration `mapstructure:"closed_window"`
	ClosedThreshold   float64       `mapstructure:"closed_threshold"`
	HalfOpenWindow    time.Duration `mapstructure:"half_open_window"`
	HalfOpenThreshold float64       `mapstructure:"half_open_threshold"`
	ErrorWindow       time.Duration `mapstructure:"error_window"`
	ErrorThreshold    float64       `mapstructure:"error_threshold"`
	NotFoundWindow    time.Duration `mapstructure:"not_found_window"`
	NotFoundThreshold float64       `mapstructure:"not_found_threshold"`
}

// ExecutorConfig parameterizes the batch executor.
type ExecutorConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	HardCap     int           `mapstructure:"hard_cap"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

// DBConfig controls the Postgres record store; an empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	JobsTable       string        `mapstructure:"jobs_table"`
	RecordsTable    string        `mapstructure:"records_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds Pub/Sub publishing metadata; an empty project
// selects the in-memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("logging.development", true)

	v.SetDefault("crawler.project", "default")
	v.SetDefault("crawler.status_window", "5m")

	v.SetDefault("client.timeout", "15s")
	v.SetDefault("client.user_agent", "adaptive-crawler/0.1")

	v.SetDefault("source.page_param", "page")
	v.SetDefault("source.limit_param", "limit")
	v.SetDefault("source.limit", 200)

	v.SetDefault("throttle.rate_base", 50)
	v.SetDefault("throttle.rate_min", 1)
	v.SetDefault("throttle.rate_max", 500)
	v.SetDefault("throttle.concurrency_base", 10)
	v.SetDefault("throttle.concurrency_min", 1)
	v.SetDefault("throttle.concurrency_max", 100)
	v.SetDefault("throttle.temperature", 2)
	v.SetDefault("throttle.step_increase", 5)
	v.SetDefault("throttle.step_decrease", 0.5)
	v.SetDefault("throttle.threshold", 1.2)
	v.SetDefault("throttle.step_duration", "30s")
	v.SetDefault("throttle.window", "10m")
	v.SetDefault("throttle.max_history", "1h")
	v.SetDefault("throttle.baseline_duration", "5m")
	v.SetDefault("throttle.rate_explore_duration", "10m")
	v.SetDefault("throttle.concurrency_explore_duration", "10m")
	v.SetDefault("throttle.exploit_duration", "30m")
	v.SetDefault("throttle.k", 0.5)
	v.SetDefault("throttle.m", 0.25)

	v.SetDefault("breaker.burn_in", "5m")
	v.SetDefault("breaker.cooldown", "5m")
	v.SetDefault("breaker.half_open_delay", "2s")
	v.SetDefault("breaker.closed_window", "5m")
	v.SetDefault("breaker.closed_threshold", 0.5)
	v.SetDefault("breaker.half_open_window", "10m")
	v.SetDefault("breaker.half_open_threshold", 0.3)
	v.SetDefault("breaker.error_window", "3m")
	v.SetDefault("breaker.error_threshold", 0.9)
	v.SetDefault("breaker.not_found_window", "3m")
	v.SetDefault("breaker.not_found_threshold", 0.7)

	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.hard_cap", 64)
	v.SetDefault("executor.backoff_base", "1s")

	v.SetDefault("db.jobs_table", "jobs")
	v.SetDefault("db.records_table", "records")
}

// Validate enforces required values by delegating to the component
// configs, so the process fails at startup rather than at first use.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if err := c.ClientConfig().Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := c.SourceConfig().Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.ThrottleConfig().Validate(); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	if err := c.BreakerConfig().Validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	if err := c.ExecutorConfig().Validate(); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	return nil
}

// ClientConfig converts to the transport configuration.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		Timeout:   c.Client.Timeout,
		ProxyURL:  c.Client.ProxyURL,
		UserAgent: c.Client.UserAgent,
		MaxBody:   c.Client.MaxBody,
	}
}

// SourceConfig converts to the page source configuration.
func (c Config) SourceConfig() crawler.SourceConfig {
	headers := http.Header{}
	for key, value := range c.Client.Headers {
		headers.Set(key, value)
	}
	return crawler.SourceConfig{
		BaseURL:    c.Source.BaseURL,
		PageParam:  c.Source.PageParam,
		LimitParam: c.Source.LimitParam,
		Limit:      c.Source.Limit,
		StartPage:  c.Source.StartPage,
		MaxPages:   c.Source.MaxPages,
		Params:     c.Source.Params,
		Headers:    headers,
	}
}

// ThrottleConfig converts to the adaptive controller configuration.
func (c Config) ThrottleConfig() throttle.Config {
	return throttle.Config{
		Rate: throttle.Bounds{
			Base: c.Throttle.RateBase,
			Min:  c.Throttle.RateMin,
			Max:  c.Throttle.RateMax,
		},
		Concurrency: throttle.Bounds{
			Base: c.Throttle.ConcurrencyBase,
			Min:  c.Throttle.ConcurrencyMin,
			Max:  c.Throttle.ConcurrencyMax,
		},
		Temperature:                c.Throttle.Temperature,
		StepIncrease:               c.Throttle.StepIncrease,
		StepDecrease:               c.Throttle.StepDecrease,
		Threshold:                  c.Throttle.Threshold,
		StepDuration:               c.Throttle.StepDuration,
		Window:                     c.Throttle.Window,
		BaselineDuration:           c.Throttle.BaselineDuration,
		RateExploreDuration:        c.Throttle.RateExploreDuration,
		ConcurrencyExploreDuration: c.Throttle.ConcurrencyExploreDuration,
		ExploitDuration:            c.Throttle.ExploitDuration,
		K:                          c.Throttle.K,
		M:                          c.Throttle.M,
	}
}

// BreakerConfig converts to the circuit breaker configuration.
func (c Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		BurnIn:            c.Breaker.BurnIn,
		Cooldown:          c.Breaker.Cooldown,
		HalfOpenDelay:     c.Breaker.HalfOpenDelay,
		ClosedWindow:      c.Breaker.ClosedWindow,
		ClosedThreshold:   c.Breaker.ClosedThreshold,
		HalfOpenWindow:    c.Breaker.HalfOpenWindow,
		HalfOpenThreshold: c.Breaker.HalfOpenThreshold,
		ErrorWindow:       c.Breaker.ErrorWindow,
		ErrorThreshold:    c.Breaker.ErrorThreshold,
		NotFoundWindow:    c.Breaker.NotFoundWindow,
		NotFoundThreshold: c.Breaker.NotFoundThreshold,
	}
}

// ExecutorConfig converts to the batch executor configuration.
func (c Config) ExecutorConfig() executor.Config {
	return executor.Config{
		MaxRetries:  c.Executor.MaxRetries,
		HardCap:     c.Executor.HardCap,
		BackoffBase: c.Executor.BackoffBase,
	}
}

// CrawlerConfig converts to the orchestrator configuration.
func (c Config) CrawlerConfig() crawler.Config {
	return crawler.Config{
		Project:      c.Crawler.Project,
		Topic:        c.Crawler.Topic,
		StatusWindow: c.Crawler.StatusWindow,
	}
}
