package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/lepinkainen/bookforge/pkg/urlutils"
)

// SFTPUploader uploads over a fresh SSH connection per call.
type SFTPUploader struct {
	config    SFTPConfig
	sshConfig *ssh.ClientConfig
	publicURL string
}

// NewSFTPUploader validates config and prepares the SSH client configuration.
func NewSFTPUploader(config SFTPConfig, publicURL string) (*SFTPUploader, error) {
	if config.Host == "" || config.User == "" {
		return nil, errors.New("sftp backend needs a host and a user")
	}
	if config.Port == 0 {
		config.Port = 22
	}

	var auth []ssh.AuthMethod
	if config.KeyFile != "" {
		key, err := os.ReadFile(config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if config.Password != "" {
		auth = append(auth, ssh.Password(config.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sftp backend needs a password or a key file")
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if config.KnownHosts != "" {
		callback, err := knownhosts.New(config.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeys = callback
	} else {
		slog.Warn("SFTP host key is not verified, set known_hosts", "host", config.Host)
	}

	return &SFTPUploader{
		config: config,
		sshConfig: &ssh.ClientConfig{
			User:            config.User,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         config.Timeout,
		},
		publicURL: publicURL,
	}, nil
}

func (u *SFTPUploader) dial(ctx context.Context) (*ssh.Client, error) {
	addr := net.JoinHostPort(u.config.Host, strconv.Itoa(u.config.Port))

	dialer := net.Dialer{Timeout: u.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, u.sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Upload writes to a temporary remote name and renames it over remoteKey.
func (u *SFTPUploader) Upload(ctx context.Context, localPath, remoteKey, contentType string) error {
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer in.Close()

	sshClient, err := u.dial(ctx)
	if err != nil {
		return err
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("failed to start sftp: %w", err)
	}
	defer client.Close()

	dest := path.Join(u.config.Dir, remoteKey)
	if err := client.MkdirAll(path.Dir(dest)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	tmp := dest + ".part"
	out, err := client.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to upload %s: %w", remoteKey, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", remoteKey, err)
	}

	if err := client.PosixRename(tmp, dest); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}

	slog.Debug("Uploaded over sftp", "key", remoteKey, "host", u.config.Host)
	return nil
}

// PublicURL joins the configured public URL and key.
func (u *SFTPUploader) PublicURL(key string) string {
	return urlutils.JoinPublic(u.publicURL, key)
}
