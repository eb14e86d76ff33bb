package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Cache.RecentLimit != 50 {
		t.Errorf("expected recent limit 50, got %d", c.Cache.RecentLimit)
	}
	if c.RecentTTL != 600*time.Second {
		t.Errorf("expected recent TTL 600s, got %s", c.RecentTTL)
	}
	if c.PresenceTTL != 300*time.Second {
		t.Errorf("expected presence TTL 300s, got %s", c.PresenceTTL)
	}
	if c.TypingTTL != 5*time.Second {
		t.Errorf("expected typing TTL 5s, got %s", c.TypingTTL)
	}
	if c.LastReadTTL != time.Hour {
		t.Errorf("expected last-read TTL 1h, got %s", c.LastReadTTL)
	}
	if c.Fanout.Channel != "chat:fanout" {
		t.Errorf("expected fanout channel chat:fanout, got %q", c.Fanout.Channel)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
app:
  port: 9000
store:
  driver: sqlite
  sqlite_path: /tmp/chat.db
fanout:
  transport: nats
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHAT_KAFKA_WORKERS", "4")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.App.Port != 9000 {
		t.Errorf("expected port 9000, got %d", c.App.Port)
	}
	if c.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", c.Store.Driver)
	}
	if c.Fanout.Transport != "nats" {
		t.Errorf("expected nats transport, got %q", c.Fanout.Transport)
	}
	if c.Kafka.Workers != 4 {
		t.Errorf("expected 4 workers from env, got %d", c.Kafka.Workers)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CHAT_STORE_DRIVER", "postgres")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
