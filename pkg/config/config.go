package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway  GatewayConfig  `toml:"gateway"`
	Model    ModelConfig    `toml:"model"`
	Recall   RecallConfig   `toml:"recall"`
	Media    MediaConfig    `toml:"media"`
	Store    StoreConfig    `toml:"store"`
	Channels ChannelsConfig `toml:"channels"`
	Log      LogConfig      `toml:"log"`
	Tracing  TracingConfig  `toml:"tracing"`
}

type GatewayConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type ModelConfig struct {
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	BaseURL      string `toml:"base_url"`
	SystemPrompt string `toml:"system_prompt"`
	MaxTokens    int    `toml:"max_tokens"`
}

// RecallConfig tunes the recent-image lookback. The cue lists are policy,
// not contract: empty lists fall back to built-in defaults, and
// RecentImageLimit = 0 disables recall entirely.
type RecallConfig struct {
	RecentImageLimit int      `toml:"recent_image_limit"`
	DeicticCues      []string `toml:"deictic_cues"`
	ActionCues       []string `toml:"action_cues"`
}

type MediaConfig struct {
	Dir string `toml:"dir"`
}

type StoreConfig struct {
	DSN string `toml:"dsn"`
}

type ChannelsConfig struct {
	QQ     QQConfig     `toml:"qq"`
	Feishu FeishuConfig `toml:"feishu"`
}

type QQConfig struct {
	Enabled             bool   `toml:"enabled"`
	AppID               string `toml:"app_id"`
	Secret              string `toml:"secret"`
	MediaUploadCommand  string `toml:"media_upload_command"`
	MediaUploadTimeoutS int    `toml:"media_upload_timeout_s"`
}

type FeishuConfig struct {
	Enabled           bool   `toml:"enabled"`
	AppID             string `toml:"app_id"`
	AppSecret         string `toml:"app_secret"`
	VerificationToken string `toml:"verification_token"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TracingConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Bind: "loopback",
			Port: 18690,
		},
		Model: ModelConfig{
			Model:     "gpt-4o",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: 4096,
		},
		Recall: RecallConfig{
			RecentImageLimit: 3,
		},
		Media: MediaConfig{
			Dir: filepath.Join(DataDir(), "media"),
		},
		Store: StoreConfig{
			DSN: filepath.Join(DataDir(), "mmbridge.db"),
		},
		Channels: ChannelsConfig{
			QQ: QQConfig{
				MediaUploadTimeoutS: 60,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(DataDir(), "mmbridge.db")
	}
	if cfg.Media.Dir == "" {
		cfg.Media.Dir = filepath.Join(DataDir(), "media")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Recall.RecentImageLimit < 0 {
		return fmt.Errorf("recall.recent_image_limit must be non-negative, got %d", c.Recall.RecentImageLimit)
	}
	if c.Channels.QQ.MediaUploadTimeoutS <= 0 {
		return fmt.Errorf("channels.qq.media_upload_timeout_s must be positive, got %d", c.Channels.QQ.MediaUploadTimeoutS)
	}
	if c.Channels.QQ.Enabled && (c.Channels.QQ.AppID == "" || c.Channels.QQ.Secret == "") {
		return fmt.Errorf("channels.qq requires app_id and secret when enabled")
	}
	if c.Channels.Feishu.Enabled && (c.Channels.Feishu.AppID == "" || c.Channels.Feishu.AppSecret == "") {
		return fmt.Errorf("channels.feishu requires app_id and app_secret when enabled")
	}
	return nil
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func DataDir() string {
	if dir := os.Getenv("MMBRIDGE_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mmbridge"
	}
	return filepath.Join(home, ".mmbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "mmbridge.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
