// Package config reads Disco's DISCO_* configuration surface: process
// environment first, then /etc/disco/disco.conf key=value lines filling in
// anything the environment left unset — generalizing the teacher's env-var
// precedent (internal/logutil's CLUSTER_LOG_* toggles) to the full
// settings surface original_source/disco-daemon's clap `env = "DISCO_*"`
// pairing and config-crate Settings::new defaults describe.
package config

import (
    "bufio"
    "os"
    "strconv"
    "strings"

    "github.com/jeffmoss/disco/pkg/failure"
)

// DefaultFile is the on-disk config path spec.md §6 names.
const DefaultFile = "/etc/disco/disco.conf"

// Config is a DISCO_*-prefixed key=value source: the process environment
// overlaid on /etc/disco/disco.conf, environment winning on conflict.
type Config struct {
    values map[string]string
}

// Load reads path (ignoring a missing file — it's optional) and merges it
// under the current environment. A malformed line is a Usage error,
// matching spec.md §7's "bad CLI flag, malformed config" exit-3 class.
func Load(path string) (*Config, error) {
    c := &Config{values: map[string]string{}}
    if path == "" {
        path = DefaultFile
    }
    f, err := os.Open(path)
    if err != nil {
        if os.IsNotExist(err) {
            return c, nil
        }
        return nil, failure.New(failure.Usage, err)
    }
    defer f.Close()

    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") {
            continue
        }
        k, v, ok := strings.Cut(line, "=")
        if !ok {
            return nil, failure.Newf(failure.Usage, "config: malformed line %q in %s", line, path)
        }
        c.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
    }
    if err := sc.Err(); err != nil {
        return nil, failure.New(failure.Usage, err)
    }
    return c, nil
}

// String returns the value of key (DISCO_-prefixed), preferring the
// environment over the config file, falling back to def.
func (c *Config) String(key, def string) string {
    if v, ok := os.LookupEnv(key); ok {
        return v
    }
    if c != nil {
        if v, ok := c.values[key]; ok {
            return v
        }
    }
    return def
}

// Uint64 parses String(key, ...) as base-10, falling back to def on a
// missing or unparsable value.
func (c *Config) Uint64(key string, def uint64) uint64 {
    v := c.String(key, "")
    if v == "" {
        return def
    }
    n, err := strconv.ParseUint(v, 10, 64)
    if err != nil {
        return def
    }
    return n
}

// Bool parses String(key, ...) permissively ("1"/"true"/"yes"), falling
// back to def otherwise.
func (c *Config) Bool(key string, def bool) bool {
    v := strings.ToLower(c.String(key, ""))
    switch v {
    case "1", "true", "yes", "on":
        return true
    case "0", "false", "no", "off":
        return false
    default:
        return def
    }
}
