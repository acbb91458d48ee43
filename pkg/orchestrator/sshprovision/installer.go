// Package sshprovision implements `cluster.ssh_install()`, following
// original_source/disco-common/src/ssh/installer.rs exactly: a single
// tar-stream transfer over the SSH session's stdin rather than scp/sftp, a
// slow-boot connect-retry loop, and local-tree archiving that happens once
// per Installer and is reused across every host that Installer installs onto.
package sshprovision

import (
    "archive/tar"
    "compress/gzip"
    "context"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"
    "time"

    "golang.org/x/crypto/ssh"

    "github.com/jeffmoss/disco/pkg/failure"
)

// Installer mirrors installer.rs's Installer{key_pair, username,
// remote_directory, certificate, tar_file}: one local tree tar'd once into
// a cached temp file, reused across every `install_to_host` call within one
// ssh_install fan-out.
type Installer struct {
    Signer          ssh.Signer
    Username        string
    RemoteDirectory string
    LocalTree       string

    mu      sync.Mutex
    tarPath string
}

// Close removes the cached tar file, mirroring the Rust Installer's Drop.
func (in *Installer) Close() error {
    in.mu.Lock()
    defer in.mu.Unlock()
    if in.tarPath == "" {
        return nil
    }
    err := os.Remove(in.tarPath)
    in.tarPath = ""
    return err
}

// InstallToHost connects to host:22 (retrying per spec.md §4.6 step 5: 30
// attempts, 2s interval, since freshly launched instances boot slowly),
// ensures the remote directory, streams the archived local tree into it via
// `tar -xzf - -C dir`, then runs the post-install commands (service
// user/group creation, disco.conf write, service start) as additional
// session.Run calls over the same connection — installer.rs's
// run_command/run_command_with_input generalized to a command list.
func (in *Installer) InstallToHost(ctx context.Context, host string, postInstall []string) error {
    client, err := in.dialWithRetry(ctx, host)
    if err != nil {
        return err
    }
    defer client.Close()

    if err := in.ensureRemoteDirectory(client); err != nil {
        return err
    }
    if err := in.streamTarToRemote(client); err != nil {
        return err
    }
    for _, cmd := range postInstall {
        if err := runCommand(client, cmd); err != nil {
            return failure.Newf(failure.Transient, "post-install command %q: %w", cmd, err)
        }
    }
    return nil
}

func (in *Installer) dialWithRetry(ctx context.Context, host string) (*ssh.Client, error) {
    const maxAttempts = 30
    const interval = 2 * time.Second

    cfg := &ssh.ClientConfig{
        User:            in.Username,
        Auth:            []ssh.AuthMethod{ssh.PublicKeys(in.Signer)},
        HostKeyCallback: ssh.InsecureIgnoreHostKey(),
        Timeout:         5 * time.Second,
    }
    addr := host
    if !hasPort(host) {
        addr = host + ":22"
    }

    var lastErr error
    for attempt := 1; attempt <= maxAttempts; attempt++ {
        client, err := ssh.Dial("tcp", addr, cfg)
        if err == nil {
            return client, nil
        }
        lastErr = err
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(interval):
        }
    }
    return nil, failure.Newf(failure.Transient, "ssh connect to %s after %d attempts: %w", addr, maxAttempts, lastErr)
}

func hasPort(host string) bool {
    for i := len(host) - 1; i >= 0; i-- {
        if host[i] == ':' {
            return true
        }
        if host[i] == ']' {
            return false
        }
    }
    return false
}

func (in *Installer) ensureRemoteDirectory(client *ssh.Client) error {
    return runCommand(client, fmt.Sprintf("mkdir -p %s", in.RemoteDirectory))
}

// streamTarToRemote gets (or creates) the cached archive of LocalTree and
// streams it into the remote `tar -xzf - -C dir` over the session's stdin —
// no SFTP subsystem, matching installer.rs's single-archive-stream design.
func (in *Installer) streamTarToRemote(client *ssh.Client) error {
    tarPath, err := in.getOrCreateTarFile()
    if err != nil {
        return err
    }
    f, err := os.Open(tarPath)
    if err != nil {
        return failure.Newf(failure.Transient, "open cached archive: %w", err)
    }
    defer f.Close()

    session, err := client.NewSession()
    if err != nil {
        return failure.Newf(failure.Transient, "open ssh session: %w", err)
    }
    defer session.Close()

    session.Stdin = f
    cmd := fmt.Sprintf("tar -xzf - -C %s", in.RemoteDirectory)
    if err := session.Run(cmd); err != nil {
        return failure.Newf(failure.Transient, "remote tar extract: %w", err)
    }
    return nil
}

// getOrCreateTarFile lazily archives LocalTree with tar+gzip into a cached
// temp file, reused across every host this Installer installs onto (installer.rs's
// get_or_create_tar_file).
func (in *Installer) getOrCreateTarFile() (string, error) {
    in.mu.Lock()
    defer in.mu.Unlock()
    if in.tarPath != "" {
        return in.tarPath, nil
    }
    tmp, err := os.CreateTemp("", "disco-install-*.tar.gz")
    if err != nil {
        return "", failure.Newf(failure.Transient, "create archive temp file: %w", err)
    }
    defer tmp.Close()

    gz := gzip.NewWriter(tmp)
    tw := tar.NewWriter(gz)
    err = filepath.Walk(in.LocalTree, func(path string, fi os.FileInfo, walkErr error) error {
        if walkErr != nil {
            return walkErr
        }
        rel, rerr := filepath.Rel(in.LocalTree, path)
        if rerr != nil {
            return rerr
        }
        if rel == "." {
            return nil
        }
        hdr, herr := tar.FileInfoHeader(fi, "")
        if herr != nil {
            return herr
        }
        hdr.Name = rel
        if err := tw.WriteHeader(hdr); err != nil {
            return err
        }
        if fi.IsDir() {
            return nil
        }
        src, oerr := os.Open(path)
        if oerr != nil {
            return oerr
        }
        defer src.Close()
        _, cerr := io.Copy(tw, src)
        return cerr
    })
    if err == nil {
        err = tw.Close()
    }
    if err == nil {
        err = gz.Close()
    }
    if err != nil {
        os.Remove(tmp.Name())
        return "", failure.Newf(failure.Transient, "archive local tree: %w", err)
    }
    in.tarPath = tmp.Name()
    return in.tarPath, nil
}

func runCommand(client *ssh.Client, cmd string) error {
    session, err := client.NewSession()
    if err != nil {
        return err
    }
    defer session.Close()
    return session.Run(cmd)
}
