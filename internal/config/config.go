// Package config loads client configuration from defaults, an optional YAML
// file, CHATROOM_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/omochice/roomchat/internal/log"
)

// EnvPrefix prefixes every environment override, e.g. CHATROOM_SERVER_BASE_URL.
const EnvPrefix = "CHATROOM"

type Config struct {
	Server    ServerConfig
	Messaging MessagingConfig
	User      UserConfig
	Log       log.Config
}

type ServerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	HistoryPath    string        `mapstructure:"history_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type MessagingConfig struct {
	Endpoint          string
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout"`
	HeartBeat         time.Duration `mapstructure:"heartbeat"`
	Buffer            int
}

type UserConfig struct {
	Name string
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"server":    "server.base_url",
	"endpoint":  "messaging.endpoint",
	"name":      "user.name",
	"log-level": "log.level",
	"log-file":  "log.output",
}

// Load resolves the configuration. cfgFile may be empty, in which case
// chatroom.yaml is searched in the working directory, ./config and $HOME.
// flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("chatroom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.history_path", "messages")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("messaging.endpoint", "ws://localhost:8080/chat/websocket")
	v.SetDefault("messaging.handshake_timeout", "10s")
	v.SetDefault("messaging.disconnect_timeout", "2s")
	v.SetDefault("messaging.heartbeat", "0s")
	v.SetDefault("messaging.buffer", 64)
	v.SetDefault("user.name", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.output", "")
}
