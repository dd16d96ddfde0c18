package chatsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeFile(t, "chatsync.yaml", `
url: ws://chat.local/ws
api_base_url: http://chat.local/api
user_id: alice
request_timeout: 5s
reconnect_interval: 250ms
max_reconnect_tries: 3
log_level: debug
`)
	t.Setenv("CHATSYNC_USER_ID", "bob")
	t.Setenv("CHATSYNC_AUTO_RECONNECT", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.URL != "ws://chat.local/ws" || cfg.APIBaseURL != "http://chat.local/api" {
		t.Fatalf("endpoints not loaded: %+v", cfg)
	}
	if cfg.UserID != "bob" {
		t.Fatalf("env should override file, got %q", cfg.UserID)
	}
	if cfg.AutoReconnect {
		t.Fatal("CHATSYNC_AUTO_RECONNECT=false ignored")
	}
	if cfg.RequestTimeout != 5*time.Second || cfg.ReconnectInterval != 250*time.Millisecond || cfg.MaxReconnectTries != 3 {
		t.Fatalf("durations not loaded: %+v", cfg)
	}
	if cfg.HandshakeTimeout != DefaultConfig().HandshakeTimeout {
		t.Fatal("unset fields should keep defaults")
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := writeFile(t, "bad.yaml", "url: ws://x/ws\nread_timeout: soon\n")
	if _, err := LoadConfig(path); Classify(err) != ErrorInvalidConfig {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if Classify(cfg.Validate()) != ErrorInvalidConfig {
		t.Fatal("empty URL should be rejected")
	}
	cfg.URL = "ws://x/ws"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	cfg.MaxReconnectDelay = cfg.ReconnectInterval / 2
	if cfg.Validate() == nil {
		t.Fatal("max delay below interval should be rejected")
	}
}

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestViewerFromToken(t *testing.T) {
	cases := []struct {
		claims jwt.MapClaims
		want   string
	}{
		{jwt.MapClaims{"sub": "alice"}, "alice"},
		{jwt.MapClaims{"userId": "bob"}, "bob"},
		{jwt.MapClaims{"id": float64(42)}, "42"},
	}
	for _, c := range cases {
		got, err := ViewerFromToken(sign(t, c.claims))
		if err != nil || got != c.want {
			t.Errorf("ViewerFromToken(%v) = %q, %v", c.claims, got, err)
		}
	}
	if _, err := ViewerFromToken("not-a-jwt"); Classify(err) != ErrorInvalidConfig {
		t.Errorf("malformed token: %v", err)
	}
	if _, err := ViewerFromToken(sign(t, jwt.MapClaims{"name": "x"})); err == nil {
		t.Error("token without an id claim should fail")
	}
}

func TestResolveViewerPrefersUserID(t *testing.T) {
	cfg := Config{UserID: "carol", Token: sign(t, jwt.MapClaims{"sub": "alice"})}
	if v, _ := ResolveViewer(cfg); v != "carol" {
		t.Fatalf("ResolveViewer = %q", v)
	}
}
