package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevelRecognizesAliasesCaseInsensitively(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarn,
		"WARNING": LevelWarn,
		"error":   LevelError,
		"err":     LevelError,
		"fatal":   LevelFatal,
		"off":     LevelOff,
		"none":    LevelOff,
		" Info ":  LevelInfo,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("ParseLevel(verbose) should fail")
	}
}

func TestLoggerFiltersBelowCategoryLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{DefaultLevel: LevelWarn, Output: &buf, Format: FormatText})

	logger.Info(CategoryClient, "should be filtered out")
	if buf.Len() != 0 {
		t.Fatalf("buffer should be empty after a below-threshold Info; got %q", buf.String())
	}

	logger.Warn(CategoryClient, "should pass")
	if !strings.Contains(buf.String(), "should pass") {
		t.Fatalf("buffer = %q; want it to contain the Warn message", buf.String())
	}
}

func TestLoggerPerCategoryLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		DefaultLevel:   LevelError,
		CategoryLevels: map[Category]Level{CategoryPool: LevelDebug},
		Output:         &buf,
		Format:         FormatText,
	})

	logger.Pool().Debug("pool debug line")
	logger.Client().Debug("client debug line, should be filtered")

	out := buf.String()
	if !strings.Contains(out, "pool debug line") {
		t.Fatalf("buffer missing pool-category debug line: %q", out)
	}
	if strings.Contains(out, "client debug line") {
		t.Fatalf("buffer should not contain client-category debug line: %q", out)
	}
}

func TestLoggerJSONFormatEncodesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{DefaultLevel: LevelInfo, Output: &buf, Format: FormatJSON})

	logger.Info(CategoryConnection, "dialed", "addr", "localhost:1433")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal JSON log line: %v (line: %q)", err, buf.String())
	}
	if entry.Message != "dialed" {
		t.Fatalf("Message = %q; want dialed", entry.Message)
	}
	if entry.Fields["addr"] != "localhost:1433" {
		t.Fatalf("Fields[addr] = %v; want localhost:1433", entry.Fields["addr"])
	}
}

func TestLoggerErrorRecordsErrorString(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{DefaultLevel: LevelInfo, Output: &buf, Format: FormatText})

	logger.Error(CategoryPipeline, "request failed", errTest("boom"))

	if !strings.Contains(buf.String(), `error="boom"`) {
		t.Fatalf("buffer = %q; want it to contain error=\"boom\"", buf.String())
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestLoggerStatsCountsLoggedEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{DefaultLevel: LevelInfo, Output: &buf, Format: FormatText})

	logger.Info(CategoryClient, "one")
	logger.Info(CategoryClient, "two")

	logged, dropped := logger.Stats()
	if logged != 2 {
		t.Fatalf("logged = %d; want 2", logged)
	}
	if dropped != 0 {
		t.Fatalf("dropped = %d; want 0", dropped)
	}
}

func TestLoggerCloseOnSyncLoggerIsNoop(t *testing.T) {
	logger := New(DefaultConfig())
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() on a sync logger error: %v", err)
	}
}
