package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/omochice/roomchat/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.BaseURL != "http://localhost:8080" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.HistoryPath != "messages" {
		t.Errorf("Server.HistoryPath = %q", cfg.Server.HistoryPath)
	}
	if cfg.Server.RequestTimeout != 10*time.Second {
		t.Errorf("Server.RequestTimeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Messaging.Endpoint != "ws://localhost:8080/chat/websocket" {
		t.Errorf("Messaging.Endpoint = %q", cfg.Messaging.Endpoint)
	}
	if cfg.Messaging.HandshakeTimeout != 10*time.Second {
		t.Errorf("Messaging.HandshakeTimeout = %v", cfg.Messaging.HandshakeTimeout)
	}
	if cfg.Messaging.DisconnectTimeout != 2*time.Second {
		t.Errorf("Messaging.DisconnectTimeout = %v", cfg.Messaging.DisconnectTimeout)
	}
	if cfg.Messaging.Buffer != 64 {
		t.Errorf("Messaging.Buffer = %d", cfg.Messaging.Buffer)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatroom.yaml")
	yaml := []byte(`server:
  base_url: http://file:9000
  history_path: massages
messaging:
  endpoint: tcp://file:61613
  handshake_timeout: 3s
user:
  name: FromFile
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHATROOM_MESSAGING_ENDPOINT", "ws://env:8080/chat/websocket")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("name", "", "")
	flags.String("server", "", "")
	if err := flags.Parse([]string{"--name", "FromFlag"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := config.Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.BaseURL != "http://file:9000" {
		t.Errorf("Server.BaseURL = %q, want value from file", cfg.Server.BaseURL)
	}
	if cfg.Server.HistoryPath != "massages" {
		t.Errorf("Server.HistoryPath = %q, want value from file", cfg.Server.HistoryPath)
	}
	if cfg.Messaging.Endpoint != "ws://env:8080/chat/websocket" {
		t.Errorf("Messaging.Endpoint = %q, want value from env", cfg.Messaging.Endpoint)
	}
	if cfg.Messaging.HandshakeTimeout != 3*time.Second {
		t.Errorf("Messaging.HandshakeTimeout = %v, want 3s", cfg.Messaging.HandshakeTimeout)
	}
	if cfg.User.Name != "FromFlag" {
		t.Errorf("User.Name = %q, want value from flag", cfg.User.Name)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	if err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
