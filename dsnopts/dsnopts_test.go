package dsnopts

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseBasic(t *testing.T) {
	opts, err := Parse("jdbc:mysql://db.internal:3306/orders")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if opts.Host != "db.internal" {
		t.Errorf("Host = %q, want db.internal", opts.Host)
	}
	if opts.Port != 3306 {
		t.Errorf("Port = %d, want 3306", opts.Port)
	}
	if opts.Database != "orders" {
		t.Errorf("Database = %q, want orders", opts.Database)
	}
	if opts.CharacterID == 0 {
		t.Error("expected CharacterID to be defaulted, got 0")
	}
	if opts.PingPeriod != 30*time.Second {
		t.Errorf("PingPeriod = %v, want default 30s", opts.PingPeriod)
	}
}

func TestParseQueryParameters(t *testing.T) {
	opts, err := Parse("jdbc:mysql://db.internal:3306/orders?characterId=45&capabilitiesFlags=8&pingPeriod=10")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if opts.CharacterID != 45 {
		t.Errorf("CharacterID = %d, want 45", opts.CharacterID)
	}
	if opts.CapabilitiesFlags != 8 {
		t.Errorf("CapabilitiesFlags = %d, want 8", opts.CapabilitiesFlags)
	}
	if opts.PingPeriod != 10*time.Second {
		t.Errorf("PingPeriod = %v, want 10s", opts.PingPeriod)
	}
}

func TestParsePingPeriodZeroDisablesHeartbeat(t *testing.T) {
	opts, err := Parse("jdbc:mysql://db.internal:3306/orders?pingPeriod=0")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if opts.PingPeriod != 0 {
		t.Errorf("PingPeriod = %v, want 0 (explicit disable must survive ApplyDefaults)", opts.PingPeriod)
	}
}

func TestParsePingPeriodUnsetUsesDefault(t *testing.T) {
	opts, err := Parse("jdbc:mysql://db.internal:3306/orders?characterId=45")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if opts.PingPeriod != 30*time.Second {
		t.Errorf("PingPeriod = %v, want default 30s when unset", opts.PingPeriod)
	}
}

func TestParseIgnoresUnrecognizedQueryKeys(t *testing.T) {
	opts, err := Parse("jdbc:mysql://db.internal:3306/orders?useSSL=true&pingPeriod=5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if opts.PingPeriod != 5*time.Second {
		t.Errorf("PingPeriod = %v, want 5s", opts.PingPeriod)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []string{
		"not-a-dsn",
		"jdbc:mysql://host/db",
		"jdbc:mysql://host:notaport/db",
		"jdbc:mysql://host:3306/db?characterId=notanumber",
		"jdbc:mysql://host:3306/db?nokeyvalue",
	}
	for _, dsn := range tests {
		if _, err := Parse(dsn); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", dsn)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	base := Options{Host: "h", Port: 1, Database: "d", Username: "u"}
	if err := base.Validate(); err != nil {
		t.Errorf("expected valid Options, got %v", err)
	}

	missing := base
	missing.Host = ""
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing host")
	}
}

func TestLoadFile(t *testing.T) {
	yaml := `
host: db.internal
port: 3306
database: orders
username: svc_orders
password: ${TEST_DSNOPTS_PASSWORD}
`
	os.Setenv("TEST_DSNOPTS_PASSWORD", "secret123")
	defer os.Unsetenv("TEST_DSNOPTS_PASSWORD")

	path := writeTemp(t, yaml)
	opts, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if opts.Password != "secret123" {
		t.Errorf("Password = %q, want secret123 (env substitution)", opts.Password)
	}
	if opts.CharacterID == 0 {
		t.Error("expected CharacterID to be defaulted")
	}
}

func TestLoadFileValidationError(t *testing.T) {
	yaml := `
port: 3306
database: orders
username: svc_orders
`
	path := writeTemp(t, yaml)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected validation error for missing host")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	yaml := `
host: db.internal
port: 3306
database: orders
username: svc_orders
`
	path := writeTemp(t, yaml)

	reloaded := make(chan *Options, 1)
	w, err := NewWatcher(path, func(o *Options) {
		select {
		case reloaded <- o:
		default:
		}
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	updated := yaml + "\ncharacter_id: 33\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("writing updated file: %v", err)
	}

	select {
	case opts := <-reloaded:
		if opts.CharacterID != 33 {
			t.Errorf("CharacterID = %d, want 33 after reload", opts.CharacterID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watcher reload")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "options.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}
