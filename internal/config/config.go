package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	SignalURL   string `mapstructure:"signal_url"`
	SignalToken string `mapstructure:"signal_token"`
	UserID      string `mapstructure:"user_id"`
	DeviceID    string `mapstructure:"device_id"`

	EgressBitrate  int `mapstructure:"egress_bitrate"`
	IngressBitrate int `mapstructure:"ingress_bitrate"`

	VideoWidth  int    `mapstructure:"video_width"`
	VideoHeight int    `mapstructure:"video_height"`
	VideoFPS    int    `mapstructure:"video_fps"`
	AudioDevice string `mapstructure:"audio_device"`
	VideoDevice string `mapstructure:"video_device"`

	VideoMuted bool `mapstructure:"video_muted"`
	AudioMuted bool `mapstructure:"audio_muted"`
	DebugStats bool `mapstructure:"debug_stats"`
}

func Load() (*Config, *Store, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8823)
	v.SetDefault("static_path", "./web")
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("video_width", 1280)
	v.SetDefault("video_height", 720)
	v.SetDefault("video_fps", 30)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Signal: %s\n", cfg.Mode, cfg.Port, cfg.SignalURL)
	return &cfg, &Store{v: v}, nil
}

// Store implements the engine's settings contract on the loaded viper
// instance. Writes update the running value and persist best effort; a
// failed write of the file still applies in memory.
type Store struct {
	mu sync.Mutex
	v  *viper.Viper
}

func (s *Store) Int(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetInt(key)
}

func (s *Store) String(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(key)
}

func (s *Store) Bool(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(key)
}

func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	return s.v.WriteConfig()
}
