package scripthost

import (
    "bytes"
    "context"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/jeffmoss/disco/pkg/failure"
)

type fakeCluster struct {
    healthy    bool
    scaledTo   int
    calledInit bool
}

func (c *fakeCluster) Healthy(ctx context.Context) (bool, error) { return c.healthy, nil }
func (c *fakeCluster) SetKeyPair(ctx context.Context, private, public string) error {
    c.calledInit = true
    return nil
}
func (c *fakeCluster) StartInstance(ctx context.Context, image, instanceType string) error { return nil }
func (c *fakeCluster) AttachIP(ctx context.Context) error                                  { return nil }
func (c *fakeCluster) SSHInstall(ctx context.Context) error                                { return nil }
func (c *fakeCluster) Scale(ctx context.Context, n int) error {
    c.scaledTo = n
    return nil
}

type fakeClusterFactory struct{ cluster *fakeCluster }

func (f *fakeClusterFactory) NewCluster(ctx context.Context, cfg ClusterConfig) (Cluster, error) {
    return f.cluster, nil
}

func writeModule(t *testing.T, src string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "module.js")
    if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
        t.Fatalf("WriteFile: %v", err)
    }
    return path
}

func startedHost(t *testing.T, deps Deps) *Host {
    t.Helper()
    h := New(deps)
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    h.Start(ctx)
    t.Cleanup(h.Stop)
    return h
}

func TestHost_RunModule_CallsEntryPointWithArgs(t *testing.T) {
    cl := &fakeCluster{}
    h := startedHost(t, Deps{Clusters: &fakeClusterFactory{cluster: cl}})

    path := writeModule(t, `
        async function scale(n) {
            var c = new Cluster({name: "x"});
            await c.scale(n);
            return n;
        }
    `)

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    val, err := h.RunModule(ctx, path, "scale", 3)
    if err != nil {
        t.Fatalf("RunModule: %v", err)
    }
    if cl.scaledTo != 3 {
        t.Fatalf("cluster.scaledTo = %d, want 3", cl.scaledTo)
    }
    switch n := val.(type) {
    case int64:
        if n != 3 {
            t.Fatalf("RunModule return = %d, want 3", n)
        }
    case float64:
        if n != 3 {
            t.Fatalf("RunModule return = %v, want 3", n)
        }
    default:
        t.Fatalf("RunModule return = %#v, want a numeric 3", val)
    }
}

func TestHost_RunModule_MissingEntryIsNotAnError(t *testing.T) {
    h := startedHost(t, Deps{})
    path := writeModule(t, `function init() {}`)

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if _, err := h.RunModule(ctx, path, "bootstrap"); err != nil {
        t.Fatalf("RunModule for unexported entry: %v", err)
    }
}

func TestHost_RunModule_ScriptThrowSurfacesAsScriptError(t *testing.T) {
    h := startedHost(t, Deps{})
    path := writeModule(t, `
        async function init() {
            throw new Error("boom");
        }
    `)

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _, err := h.RunModule(ctx, path, "init")
    if err == nil {
        t.Fatalf("RunModule: expected error from thrown exception")
    }
    if !failure.Is(err, failure.Script) {
        t.Fatalf("RunModule: err = %v, want a Script failure", err)
    }
}

func TestHost_ConsoleLogWritesToStdout(t *testing.T) {
    var buf bytes.Buffer
    h := startedHost(t, Deps{Stdout: &buf})
    path := writeModule(t, `
        async function init() {
            console.log("hello", "world");
        }
    `)

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if _, err := h.RunModule(ctx, path, "init"); err != nil {
        t.Fatalf("RunModule: %v", err)
    }
    if got := buf.String(); got != "hello world\n" {
        t.Fatalf("stdout = %q, want %q", got, "hello world\n")
    }
}
