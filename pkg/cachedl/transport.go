package cachedl

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// remote is an open resource body plus the metadata known before reading it.
type remote struct {
	body        io.ReadCloser
	size        int64 // -1 when unknown
	contentType string
	etag        string
}

// transport opens a resource for one URL scheme family.
type transport interface {
	open(ctx context.Context, u *url.URL) (*remote, error)
}

type httpTransport struct {
	client    *http.Client
	userAgent string
}

func (t *httpTransport) open(ctx context.Context, u *url.URL) (*remote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return &remote{
		body:        resp.Body,
		size:        resp.ContentLength,
		contentType: resp.Header.Get("Content-Type"),
		etag:        resp.Header.Get("ETag"),
	}, nil
}

const (
	defaultFTPPort  = "21"
	defaultSFTPPort = "22"
	defaultDialWait = 30 * time.Second
)

type ftpTransport struct {
	timeout time.Duration
}

func (t *ftpTransport) open(ctx context.Context, u *url.URL) (*remote, error) {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultFTPPort)
	}
	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	opts := []ftp.DialOption{
		ftp.DialWithTimeout(t.timeout),
		ftp.DialWithContext(ctx),
	}
	if u.Scheme == "ftps" {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: u.Hostname()}))
	}
	conn, err := ftp.Dial(host, opts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	size, err := conn.FileSize(u.Path)
	if err != nil {
		// SIZE is optional on some servers.
		size = -1
	}
	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return &remote{body: &ftpBody{Response: resp, conn: conn}, size: size}, nil
}

type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Close() error {
	err := b.Response.Close()
	if qerr := b.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

type sftpTransport struct {
	timeout    time.Duration
	knownHosts string
	keyPath    string
}

func (t *sftpTransport) open(ctx context.Context, u *url.URL) (*remote, error) {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultSFTPPort)
	}
	user := ""
	password := ""
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}
	if user == "" {
		return nil, fmt.Errorf("sftp: missing username in URL")
	}
	auth, err := buildAuthMethods(password, t.keyPath)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: newTOFUHostKeyCallback(t.knownHosts),
		Timeout:         t.timeout,
	}
	dialer := net.Dialer{Timeout: t.timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(netConn, host, config)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	sshConn := ssh.NewClient(c, chans, reqs)
	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, err
	}
	f, err := client.Open(u.Path)
	if err != nil {
		client.Close()
		sshConn.Close()
		return nil, err
	}
	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return &remote{body: &sftpBody{File: f, client: client, conn: sshConn}, size: size}, nil
}

type sftpBody struct {
	*sftp.File
	client *sftp.Client
	conn   *ssh.Client
}

func (b *sftpBody) Close() error {
	err := b.File.Close()
	b.client.Close()
	b.conn.Close()
	return err
}

// buildAuthMethods prefers the URL password, then the first readable private
// key among keyPath or the default ~/.ssh keys.
func buildAuthMethods(password, keyPath string) ([]ssh.AuthMethod, error) {
	if password != "" {
		return []ssh.AuthMethod{ssh.Password(password)}, nil
	}

	keyPaths := resolveSSHKeyPaths(keyPath)
	for _, kp := range keyPaths {
		pemBytes, err := os.ReadFile(kp)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, fmt.Errorf("sftp: SSH key %q is passphrase-protected; passphrase-protected keys are not supported", kp)
			}
			continue
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("sftp: no authentication method available, provide a password in the URL or an SSH key at %s", strings.Join(keyPaths, ", "))
}

func resolveSSHKeyPaths(explicitPath string) []string {
	if explicitPath != "" {
		return []string{explicitPath}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}
