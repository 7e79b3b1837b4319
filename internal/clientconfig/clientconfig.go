// Package clientconfig はCLI・TUIクライアントの設定ファイルを読み込む。
package clientconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ゲートウェイの種類
const (
	GatewayREST   = "rest"
	GatewayDirect = "direct"
)

// セッションの保存先
const (
	SessionStoreMemory = "memory"
	SessionStoreSQLite = "sqlite"
)

// Config はクライアントの設定。
type Config struct {
	APIURL  string `yaml:"api_url"`
	Gateway string `yaml:"gateway"`
	// DatabaseURL はgateway: directの場合に直接接続するPostgreSQLのURL。
	DatabaseURL    string `yaml:"database_url"`
	JWTSecret      string `yaml:"jwt_secret"`
	DataDir        string `yaml:"data_dir"`
	SessionStore   string `yaml:"session_store"`
	EncryptSession bool   `yaml:"encrypt_session"`
	PageSize       int    `yaml:"page_size"`
	LogLevel       string `yaml:"log_level"`
}

// Default は設定ファイルがない場合の設定を返す。
func Default() *Config {
	return &Config{
		APIURL:         "http://localhost:8080",
		Gateway:        GatewayREST,
		DataDir:        defaultDataDir(),
		SessionStore:   SessionStoreSQLite,
		EncryptSession: true,
		PageSize:       50,
		LogLevel:       "warn",
	}
}

// DefaultPath は設定ファイルの既定パスを返す。
// $XDG_CONFIG_HOME/ltme/config.yaml、未設定の場合は ~/.config/ltme/config.yaml。
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "ltme", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ltme", "config.yaml")
	}
	return filepath.Join(home, ".config", "ltme", "config.yaml")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "ltme")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ltme"
	}
	return filepath.Join(home, ".local", "share", "ltme")
}

// Load はpathの設定ファイルを読み込む。ファイルが存在しない場合は既定値を返す。
// 省略された項目には既定値を補う。
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定の組み合わせを検証する。
func (c *Config) Validate() error {
	switch c.Gateway {
	case GatewayREST:
		if c.APIURL == "" {
			return fmt.Errorf("api_url is required when gateway is %q", GatewayREST)
		}
	case GatewayDirect:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when gateway is %q", GatewayDirect)
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("jwt_secret is required when gateway is %q", GatewayDirect)
		}
	default:
		return fmt.Errorf("unknown gateway: %q", c.Gateway)
	}

	switch c.SessionStore {
	case SessionStoreMemory, SessionStoreSQLite:
	default:
		return fmt.Errorf("unknown session_store: %q", c.SessionStore)
	}
	return nil
}

// Save は設定をpathに書き込む。
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// SessionPath はセッションDBのパスを返す。
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.db")
}

// DeviceKeyPath はセッション暗号化用の端末鍵のパスを返す。
func (c *Config) DeviceKeyPath() string {
	return filepath.Join(c.DataDir, "device.key")
}

// LogPath はTUI実行中のログ出力先を返す。
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "ltme.log")
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
