package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type WorkerConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`
}

type WorkspaceConfig struct {
	Root              string `mapstructure:"root"`
	AccessToken       string `mapstructure:"access_token"`
	KeepWorkingCopies bool   `mapstructure:"keep_working_copies"`
}

type ModelsConfig struct {
	Preferred   string `mapstructure:"preferred"`
	Fallback    string `mapstructure:"fallback"`
	Specialized string `mapstructure:"specialized"`
}

type InferenceConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
}

type VerificationConfig struct {
	ToolsFile            string `mapstructure:"tools_file"`
	ScratchDir           string `mapstructure:"scratch_dir"`
	SandboxContainer     string `mapstructure:"sandbox_container"`
	SandboxImage         string `mapstructure:"sandbox_image"`
	ContainerCPULimit    int64  `mapstructure:"container_cpu_limit"`
	ContainerMemoryLimit int64  `mapstructure:"container_memory_limit"`
}

type IntegrationsConfig struct {
	AnalyzerURL  string        `mapstructure:"analyzer_url"`
	KnowledgeURL string        `mapstructure:"knowledge_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type Config struct {
	DatabaseURL string             `mapstructure:"database_url"`
	ServerPort  string             `mapstructure:"server_port"`
	JWTSecret   string             `mapstructure:"jwt_secret"`
	LogLevel    string             `mapstructure:"log_level"`
	Worker      WorkerConfig       `mapstructure:"worker"`
	Workspace   WorkspaceConfig    `mapstructure:"workspace"`
	Models      ModelsConfig       `mapstructure:"models"`
	Inference   InferenceConfig    `mapstructure:"inference"`
	Verify      VerificationConfig `mapstructure:"verification"`
	Integration IntegrationsConfig `mapstructure:"integrations"`
	Webhook     WebhookConfig      `mapstructure:"webhook"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}

	if config.Worker.PollInterval == 0 {
		config.Worker.PollInterval = 5 * time.Second
	}
	if config.Worker.MaxConcurrentJobs == 0 {
		config.Worker.MaxConcurrentJobs = 4
	}
	if config.Worker.ShutdownGrace == 0 {
		config.Worker.ShutdownGrace = 30 * time.Second
	}

	if config.Workspace.Root == "" {
		config.Workspace.Root = "/tmp/alloy/workspaces"
	}

	if config.Models.Preferred == "" {
		config.Models.Preferred = "deepseek-coder-v2:16b"
	}
	if config.Models.Fallback == "" {
		config.Models.Fallback = "qwen2.5-coder:7b"
	}
	if config.Models.Specialized == "" {
		config.Models.Specialized = "codellama:34b"
	}

	if config.Inference.BaseURL == "" {
		config.Inference.BaseURL = "http://localhost:11434"
	}
	if config.Inference.Timeout == 0 {
		config.Inference.Timeout = 120 * time.Second
	}
	if config.Inference.MaxConcurrent == 0 {
		config.Inference.MaxConcurrent = 5
	}

	if config.Verify.ScratchDir == "" {
		config.Verify.ScratchDir = "/tmp/alloy/scratch"
	}

	if config.Integration.Timeout == 0 {
		config.Integration.Timeout = 30 * time.Second
	}

	return &config
}
