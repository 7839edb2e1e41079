package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML values can be written as "5s", "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the daemon configuration (~/.chatapp/config.toml).
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	DataDir    string `toml:"data_dir"`

	// OfflineGrace is how long a disconnected identity stays online,
	// absorbing refresh/reconnect races before the offline broadcast.
	OfflineGrace Duration `toml:"offline_grace"`
	// TypingTTL is the staleness window after which a typing entry is
	// considered expired even without an explicit stop signal.
	TypingTTL Duration `toml:"typing_ttl"`
	// TypingSweepInterval is how often expired typing entries are collected.
	TypingSweepInterval Duration `toml:"typing_sweep_interval"`

	ReadBufferSize  int `toml:"read_buffer_size"`
	WriteBufferSize int `toml:"write_buffer_size"`
	SendQueueSize   int `toml:"send_queue_size"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ListenAddr:          ":8080",
		DataDir:             filepath.Join(home, ".chatapp"),
		OfflineGrace:        Duration{5 * time.Second},
		TypingTTL:           Duration{5 * time.Second},
		TypingSweepInterval: Duration{10 * time.Second},
		ReadBufferSize:      1024,
		WriteBufferSize:     1024,
		SendQueueSize:       256,
	}
}

// Load reads config from the given path, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DBPath returns the sqlite database path under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "chatapp.db")
}

// LogPath returns the daemon log file path under the data dir.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "chatd.log")
}

// EnsureDirs creates the data directory tree with proper permissions.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		filepath.Join(c.DataDir, "logs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
