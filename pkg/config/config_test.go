package config

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/jeffmoss/disco/pkg/failure"
)

func writeConfFile(t *testing.T, contents string) string {
    t.Helper()
    dir := t.TempDir()
    path := filepath.Join(dir, "disco.conf")
    if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
        t.Fatalf("WriteFile: %v", err)
    }
    return path
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
    c, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    if got := c.String("DISCO_ID", "fallback"); got != "fallback" {
        t.Fatalf("String on empty config = %q, want fallback", got)
    }
}

func TestLoad_ReadsKeyValueLines(t *testing.T) {
    path := writeConfFile(t, "# comment\nDISCO_ID=node-1\n\nDISCO_ADDR = 127.0.0.1:9000\n")
    c, err := Load(path)
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    if got := c.String("DISCO_ID", ""); got != "node-1" {
        t.Fatalf("DISCO_ID = %q, want node-1", got)
    }
    if got := c.String("DISCO_ADDR", ""); got != "127.0.0.1:9000" {
        t.Fatalf("DISCO_ADDR = %q, want 127.0.0.1:9000", got)
    }
}

func TestLoad_MalformedLineIsUsageError(t *testing.T) {
    path := writeConfFile(t, "not-a-key-value-line\n")
    _, err := Load(path)
    if err == nil {
        t.Fatalf("Load: expected error for malformed line")
    }
    if kind := failure.KindOf(err); kind != failure.Usage {
        t.Fatalf("KindOf(err) = %v, want Usage", kind)
    }
}

func TestString_EnvironmentOverridesFile(t *testing.T) {
    path := writeConfFile(t, "DISCO_ID=from-file\n")
    c, err := Load(path)
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    t.Setenv("DISCO_ID", "from-env")
    if got := c.String("DISCO_ID", ""); got != "from-env" {
        t.Fatalf("String(DISCO_ID) = %q, want from-env", got)
    }
}

func TestUint64(t *testing.T) {
    path := writeConfFile(t, "DISCO_TIMEOUT=30\nDISCO_BOGUS=not-a-number\n")
    c, err := Load(path)
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    if got := c.Uint64("DISCO_TIMEOUT", 5); got != 30 {
        t.Fatalf("Uint64(DISCO_TIMEOUT) = %d, want 30", got)
    }
    if got := c.Uint64("DISCO_BOGUS", 5); got != 5 {
        t.Fatalf("Uint64(DISCO_BOGUS) = %d, want default 5", got)
    }
    if got := c.Uint64("DISCO_MISSING", 5); got != 5 {
        t.Fatalf("Uint64(DISCO_MISSING) = %d, want default 5", got)
    }
}

func TestBool(t *testing.T) {
    path := writeConfFile(t, "DISCO_A=yes\nDISCO_B=0\nDISCO_C=maybe\n")
    c, err := Load(path)
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    if got := c.Bool("DISCO_A", false); got != true {
        t.Fatalf("Bool(DISCO_A) = %v, want true", got)
    }
    if got := c.Bool("DISCO_B", true); got != false {
        t.Fatalf("Bool(DISCO_B) = %v, want false", got)
    }
    if got := c.Bool("DISCO_C", true); got != true {
        t.Fatalf("Bool(DISCO_C) = %v, want default true", got)
    }
}
