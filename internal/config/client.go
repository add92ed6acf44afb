package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration lets TOML files spell durations as strings ("10s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ClientConfig configures the chat client pipeline and the terminal pane.
type ClientConfig struct {
	APIURL    string `toml:"api_url"`
	SocketURL string `toml:"socket_url"`

	// Session credentials; usually written by `chat login`.
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	UserType string `toml:"user_type"`

	PageSize int `toml:"page_size"` // initial window limit
	LoadStep int `toml:"load_step"` // limit growth per "load more"

	// Scroll thresholds in viewport units (lines for the terminal pane).
	// A zero threshold picks the front end's default; a zero epsilon means
	// the exact top and a negative one picks the library default.
	ScrollThreshold int `toml:"scroll_threshold"`
	TopEpsilon      int `toml:"top_epsilon"`

	RequestTimeout   Duration `toml:"request_timeout"`
	ReconnectRetries int      `toml:"reconnect_retries"`
	ReconnectMaxWait Duration `toml:"reconnect_max_wait"`

	Sound bool `toml:"sound"`
}

// DefaultClientConfig returns the defaults used when no file is present.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		APIURL:           "http://localhost:8080",
		PageSize:         20,
		LoadStep:         10,
		RequestTimeout:   Duration{10 * time.Second},
		ReconnectRetries: 5,
		ReconnectMaxWait: Duration{30 * time.Second},
		Sound:            true,
	}
}

// DefaultClientPath returns ~/.coursechat/client.toml, or the path in
// CHAT_CONFIG.
func DefaultClientPath() string {
	if p := os.Getenv("CHAT_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".coursechat", "client.toml")
}

// LoadClient reads the client config at path (a missing file is not an
// error) and applies CHAT_* environment overrides.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read client config %s: %w", path, err)
		}
	}

	cfg.APIURL = getEnv("CHAT_API_URL", cfg.APIURL)
	cfg.SocketURL = getEnv("CHAT_SOCKET_URL", cfg.SocketURL)
	cfg.Token = getEnv("CHAT_TOKEN", cfg.Token)
	cfg.UserID = getEnv("CHAT_USER_ID", cfg.UserID)
	cfg.UserType = getEnv("CHAT_USER_TYPE", cfg.UserType)
	cfg.PageSize = getInt("CHAT_PAGE_SIZE", cfg.PageSize)
	cfg.LoadStep = getInt("CHAT_LOAD_STEP", cfg.LoadStep)
	cfg.RequestTimeout.Duration = getDuration("CHAT_REQUEST_TIMEOUT", cfg.RequestTimeout.Duration)
	cfg.ReconnectRetries = getInt("CHAT_RECONNECT_RETRIES", cfg.ReconnectRetries)
	if v := os.Getenv("CHAT_SOUND"); v != "" {
		cfg.Sound = v == "true" || v == "1"
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.LoadStep <= 0 {
		cfg.LoadStep = 10
	}

	return cfg, nil
}

// SaveClient writes cfg to path, creating the directory if needed.
func SaveClient(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
