package internal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	// Server holds the inbound HTTP server configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
		WebhookPath    string `yaml:"webhook_path"`
		PublicBaseURL  string `yaml:"public_base_url"`
		AdminToken     string `yaml:"admin_token"`
	} `yaml:"server"`
	// Asana holds the upstream API client configuration.
	Asana struct {
		BaseURL   string `yaml:"base_url"`
		Token     string `yaml:"token"`
		PageLimit int64  `yaml:"page_limit"`
	} `yaml:"asana"`
	// Sheets holds the Google Sheets backing-store configuration.
	Sheets struct {
		Credentials  string `yaml:"credentials"`
		SecretsSheet string `yaml:"secrets_sheet"`
		TasksSheet   string `yaml:"tasks_sheet"`
	} `yaml:"sheets"`
	// Relay controls which tasks are projected into the spreadsheet.
	Relay RelayConfig `yaml:"relay"`
	// Queue controls spreadsheet write serialization.
	Queue QueueConfig `yaml:"queue"`
	// Retry parameterizes the shared outbound HTTP client.
	Retry RetryConfig `yaml:"retry"`
	// Pipeline holds the event-pipeline configuration.
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// RelayConfig holds reconciliation policy: which assignees force a row and
// which custom fields are projected per workspace.
type RelayConfig struct {
	SpecialAssignees []string                   `yaml:"special_assignees"`
	CustomFields     []string                   `yaml:"custom_fields"`
	Workspaces       map[string]WorkspaceConfig `yaml:"workspaces"`
	EventTopic       string                     `yaml:"event_topic"`
}

// WorkspaceConfig overrides the projected custom fields for one workspace.
type WorkspaceConfig struct {
	CustomFields []string `yaml:"custom_fields"`
	ExtraColumn  string   `yaml:"extra_column"`
}

// QueueConfig holds the write-queue pacing and backoff settings.
type QueueConfig struct {
	MinIntervalMS int64 `yaml:"min_interval_ms"`
	BackoffMinMS  int64 `yaml:"backoff_min_ms"`
	BackoffMaxMS  int64 `yaml:"backoff_max_ms"`
}

// RetryConfig holds the outbound HTTP retry settings.
type RetryConfig struct {
	MaxAttempts int   `yaml:"max_attempts"`
	BaseDelayMS int64 `yaml:"base_delay_ms"`
	MaxDelayMS  int64 `yaml:"max_delay_ms"`
}

// PipelineConfig holds the configuration for the event pipeline.
type PipelineConfig struct {
	Driver    string          `yaml:"driver"`
	GoChannel GoChannelConfig `yaml:"gochannel"`
}

// GoChannelConfig holds configuration for the in-process pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// LoadConfig loads the application configuration from a YAML file.
// It expands environment variables and applies default values.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = "/webhooks/asana"
	}
	if cfg.Asana.BaseURL == "" {
		cfg.Asana.BaseURL = "https://app.asana.com/api/1.0"
	}
	if cfg.Asana.PageLimit == 0 {
		cfg.Asana.PageLimit = 100
	}
	if cfg.Sheets.SecretsSheet == "" {
		cfg.Sheets.SecretsSheet = "webhook_secrets"
	}
	if cfg.Sheets.TasksSheet == "" {
		cfg.Sheets.TasksSheet = "Tasks"
	}
	if cfg.Relay.EventTopic == "" {
		cfg.Relay.EventTopic = "asana.events"
	}
	if cfg.Queue.MinIntervalMS == 0 {
		cfg.Queue.MinIntervalMS = 1000
	}
	if cfg.Queue.BackoffMinMS == 0 {
		cfg.Queue.BackoffMinMS = 5000
	}
	if cfg.Queue.BackoffMaxMS == 0 {
		cfg.Queue.BackoffMaxMS = 10000
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 4
	}
	if cfg.Retry.BaseDelayMS == 0 {
		cfg.Retry.BaseDelayMS = 500
	}
	if cfg.Retry.MaxDelayMS == 0 {
		cfg.Retry.MaxDelayMS = 30000
	}
	if cfg.Pipeline.Driver == "" {
		cfg.Pipeline.Driver = "gochannel"
	}
	if cfg.Pipeline.GoChannel.OutputChannelBuffer == 0 {
		cfg.Pipeline.GoChannel.OutputChannelBuffer = 64
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Asana.Token) == "" {
		return fmt.Errorf("asana.token is required")
	}
	if cfg.Queue.BackoffMaxMS < cfg.Queue.BackoffMinMS {
		return fmt.Errorf("queue.backoff_max_ms must be >= queue.backoff_min_ms")
	}
	for id := range cfg.Relay.Workspaces {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("relay.workspaces contains an empty workspace id")
		}
	}
	return nil
}
