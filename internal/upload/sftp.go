package upload

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/skeema/knownhosts"
	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
)

// Client transfers files over one connection.
type Client interface {
	Put(ctx context.Context, local, remote string) error
	Close() error
}

// Dialer opens a Client for a login.
type Dialer interface {
	Dial(ctx context.Context, user, host string) (Client, error)
}

// SFTPDialer connects with SSH using the agent and/or a private key file.
type SFTPDialer struct {
	Auth    config.UploadAuth
	Timeout time.Duration
	// Home overrides the user's home directory for default key and known_hosts paths.
	Home string
}

// Dial implements Dialer.
func (d *SFTPDialer) Dial(ctx context.Context, user, host string) (Client, error) {
	port := d.Auth.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	auth, closer, err := d.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, algorithms, err := d.hostKeyCallback(addr)
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:              user,
		Auth:              auth,
		HostKeyCallback:   hostKeys,
		HostKeyAlgorithms: algorithms,
		Timeout:           timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeQuietly(closer)
		return nil, ferrors.NetworkError("connect to upload host").WithCause(err).
			WithContext("host", addr).Build()
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		closeQuietly(closer)
		return nil, ferrors.NewError(ferrors.CategoryNetwork, "SSH handshake failed").WithCause(err).
			WithContext("host", addr).UserAction().Build()
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	sc, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		closeQuietly(closer)
		return nil, ferrors.NetworkError("start sftp session").WithCause(err).WithContext("host", addr).Build()
	}
	return &sftpClient{sftp: sc, closers: []io.Closer{sshClient, closer}}, nil
}

func (d *SFTPDialer) home() string {
	if d.Home != "" {
		return d.Home
	}
	h, _ := os.UserHomeDir()
	return h
}

// authMethods returns the agent signers (when enabled and reachable) followed by the key
// file. The returned closer releases the agent connection and may be nil.
func (d *SFTPDialer) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod
	var closer io.Closer

	useAgent := d.Auth.UseAgent == nil || *d.Auth.UseAgent
	if useAgent && sshagent.Available() {
		ag, conn, err := sshagent.New()
		if err == nil {
			methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
			closer = conn
		}
	}

	keyPaths := []string{d.Auth.KeyPath}
	if d.Auth.KeyPath == "" {
		keyPaths = []string{
			filepath.Join(d.home(), ".ssh", "id_ed25519"),
			filepath.Join(d.home(), ".ssh", "id_rsa"),
		}
	}
	for _, p := range keyPaths {
		// #nosec G304 -- configured key path
		data, err := os.ReadFile(p)
		if err != nil {
			if d.Auth.KeyPath != "" {
				closeQuietly(closer)
				return nil, nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read SSH key").
					WithContext("path", p).Build()
			}
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			closeQuietly(closer)
			return nil, nil, ferrors.ConfigError("invalid SSH key").WithCause(err).WithContext("path", p).Build()
		}
		methods = append(methods, ssh.PublicKeys(signer))
		break
	}

	if len(methods) == 0 {
		closeQuietly(closer)
		return nil, nil, ferrors.ConfigError("no SSH credentials: start an agent or set uploadAuth.keyPath").Build()
	}
	return methods, closer, nil
}

// hostKeyCallback verifies host keys against known_hosts and returns the algorithms already
// known for addr, so the server offers a key that can be verified.
func (d *SFTPDialer) hostKeyCallback(addr string) (ssh.HostKeyCallback, []string, error) {
	if d.Auth.InsecureIgnore {
		// #nosec G106 -- explicitly requested in the build configuration
		return ssh.InsecureIgnoreHostKey(), nil, nil
	}
	file := d.Auth.KnownHosts
	if file == "" {
		file = filepath.Join(d.home(), ".ssh", "known_hosts")
	}
	db, err := knownhosts.NewDB(file)
	if err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read known_hosts").
			WithContext("path", file).Build()
	}
	return db.HostKeyCallback(), db.HostKeyAlgorithms(addr), nil
}

type sftpClient struct {
	sftp    *sftp.Client
	closers []io.Closer
}

// Put writes local to remote through a temporary name, creating parent directories.
func (c *sftpClient) Put(ctx context.Context, local, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// #nosec G304 -- build artifact
	in, err := os.Open(local)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "open upload source").Build()
	}
	defer in.Close()

	if dir := path.Dir(remote); dir != "." && dir != "/" {
		if err := c.sftp.MkdirAll(dir); err != nil {
			return ferrors.NetworkError("create remote directory").WithCause(err).WithContext("path", dir).Build()
		}
	}
	tmp := remote + ".part"
	out, err := c.sftp.Create(tmp)
	if err != nil {
		return ferrors.NetworkError("create remote file").WithCause(err).WithContext("path", remote).Build()
	}
	if _, err := out.ReadFrom(in); err != nil {
		_ = out.Close()
		return ferrors.NetworkError("write remote file").WithCause(err).WithContext("path", remote).Build()
	}
	if err := out.Close(); err != nil {
		return ferrors.NetworkError("close remote file").WithCause(err).Build()
	}
	_ = c.sftp.Remove(remote)
	if err := c.sftp.Rename(tmp, remote); err != nil {
		return ferrors.NetworkError(fmt.Sprintf("rename %s", tmp)).WithCause(err).Build()
	}
	return nil
}

func (c *sftpClient) Close() error {
	err := c.sftp.Close()
	for _, cl := range c.closers {
		closeQuietly(cl)
	}
	return err
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
