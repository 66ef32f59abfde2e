package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrRelayURL = errors.New("relay_url must be a ws:// or wss:// url")

// ClientConfig is what a participant needs to reach the relay and its peers.
type ClientConfig struct {
	RelayURL           string        `mapstructure:"relay_url"`
	LogLevel           string        `mapstructure:"log_level"`
	ICEServersJSON     string        `mapstructure:"ice_servers_json"`
	STUNURLs           string        `mapstructure:"stun_urls"`
	TURNURLs           string        `mapstructure:"turn_urls"`
	TURNUsername       string        `mapstructure:"turn_username"`
	TURNCredential     string        `mapstructure:"turn_credential"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	GatheringTimeout   time.Duration `mapstructure:"gathering_timeout"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`
	QualityInterval    time.Duration `mapstructure:"quality_interval"`

	ICEServers []webrtc.ICEServer `mapstructure:"-"`
}

const defaultSTUN = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers_json", "")
	v.SetDefault("stun_urls", defaultSTUN)
	v.SetDefault("turn_urls", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_credential", "")
	v.SetDefault("connect_timeout", "30s")
	v.SetDefault("gathering_timeout", "10s")
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_base_delay", "1s")
	v.SetDefault("reconnect_max_delay", "30s")
	v.SetDefault("quality_interval", "5s")
}

// DefaultClientConfig returns the defaults without touching files or env.
func DefaultClientConfig() *ClientConfig {
	v := viper.New()
	setClientDefaults(v)
	cfg, err := decodeClient(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadClient merges defaults, MEET_* env vars, an optional config file and
// the given flag set (flag names use dashes, keys use underscores).
func LoadClient(file string, flags *pflag.FlagSet) (*ClientConfig, error) {
	v := viper.New()
	setClientDefaults(v)
	v.SetEnvPrefix("MEET")
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read client config: %w", err)
		}
	}
	if flags != nil {
		for _, key := range v.AllKeys() {
			if f := flags.Lookup(flagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}
	return decodeClient(v)
}

func decodeClient(v *viper.Viper) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	servers, err := parseICEServersFromValues(cfg.ICEServersJSON, cfg.STUNURLs, cfg.TURNURLs, cfg.TURNUsername, cfg.TURNCredential)
	if err != nil {
		return nil, err
	}
	cfg.ICEServers = servers
	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrRelayURL, c.RelayURL)
	}
	if c.ReconnectAttempts < 0 {
		return errors.New("reconnect_attempts must not be negative")
	}
	if c.ConnectTimeout <= 0 || c.GatheringTimeout <= 0 {
		return errors.New("connect_timeout and gathering_timeout must be positive")
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return errors.New("reconnect delays must satisfy 0 < base <= max")
	}
	return nil
}

func flagName(key string) string {
	out := []byte(key)
	for i, b := range out {
		if b == '_' {
			out[i] = '-'
		}
	}
	return string(out)
}
