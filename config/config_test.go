package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ha1tch/gotds/tds"
)

func TestLoadAppliesJSONThenEnvThenOptionsInPrecedenceOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	jsonBody := `{"hostname":"json-host","port":1400,"username":"json-user","password":"json-pass"}`
	if err := os.WriteFile(path, []byte(jsonBody), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(EnvHostname, "env-host")
	t.Setenv(EnvPassword, "env-pass")

	cfg, err := Load(path, WithDatabase("opt-db"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Hostname != "env-host" {
		t.Fatalf("Hostname = %q; want env override env-host", cfg.Hostname)
	}
	if cfg.Port != 1400 {
		t.Fatalf("Port = %d; want 1400 from JSON (no env/opt override)", cfg.Port)
	}
	if cfg.Username != "json-user" {
		t.Fatalf("Username = %q; want json-user (no env/opt override)", cfg.Username)
	}
	if cfg.Password != "env-pass" {
		t.Fatalf("Password = %q; want env override env-pass", cfg.Password)
	}
	if cfg.Database != "opt-db" {
		t.Fatalf("Database = %q; want opt-db from the functional option", cfg.Database)
	}
}

func TestLoadMissingConfigFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"),
		WithHostAndPort("localhost", 1433), WithCredentials("sa", "secret"))
	if err != nil {
		t.Fatalf("Load() with a missing config file should not error: %v", err)
	}
	if cfg.Hostname != "localhost" {
		t.Fatalf("Hostname = %q; want localhost", cfg.Hostname)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() with malformed JSON should fail")
	}
}

func TestValidateRequiresHostnameAndCredentials(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should fail: no hostname or credentials set")
	}

	cfg.Hostname = "dbhost"
	cfg.Username = "sa"
	cfg.Password = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error on an otherwise-complete config: %v", err)
	}
}

func TestValidateRejectsCustomTrustWithoutTrustFile(t *testing.T) {
	cfg := defaults()
	cfg.Hostname = "dbhost"
	cfg.Username = "sa"
	cfg.Password = "secret"
	cfg.TLS = TLSCustomTrust

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should fail: customTrust with no tls_trust_file")
	}

	cfg.TLSTrustFile = "/etc/gotds/trust.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error after setting tls_trust_file: %v", err)
	}
}

func TestValidateRejectsOutOfRangePacketSize(t *testing.T) {
	cfg := defaults()
	cfg.Hostname = "dbhost"
	cfg.Username = "sa"
	cfg.Password = "secret"
	cfg.PacketSize = 100

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should fail: packet size below MinPacketSize")
	}
}

func TestValidateRejectsUnknownTLSMode(t *testing.T) {
	cfg := defaults()
	cfg.Hostname = "dbhost"
	cfg.Username = "sa"
	cfg.Password = "secret"
	cfg.TLS = "bogus"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should fail: unknown TLS mode")
	}
}

func TestAddrFormatsHostPort(t *testing.T) {
	cfg := &Config{Hostname: "dbhost", Port: 1433}
	if got := cfg.Addr(); got != "dbhost:1433" {
		t.Fatalf("Addr() = %q; want dbhost:1433", got)
	}
}

func TestEncryptionModeMapping(t *testing.T) {
	cases := []struct {
		mode TLSMode
		want tds.EncryptionMode
	}{
		{TLSDisabled, tds.EncryptionOff},
		{TLSRequired, tds.EncryptionRequired},
		{TLSCustomTrust, tds.EncryptionRequired},
		{TLSStrict, tds.EncryptionStrict},
		{TLSOpportunistic, tds.EncryptionLoginOnly},
	}
	for _, c := range cases {
		cfg := &Config{TLS: c.mode}
		if got := cfg.EncryptionMode(); got != c.want {
			t.Fatalf("EncryptionMode(%s) = %v; want %v", c.mode, got, c.want)
		}
	}
}
