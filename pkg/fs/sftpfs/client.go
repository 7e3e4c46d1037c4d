// Package sftpfs implements fs.FileSystem over SFTP.
package sftpfs

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sidkik/remotesync/pkg/errors"
)

// Options describe how to reach the SFTP server.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// PrivateKeyPath and Passphrase configure public key authentication.
	PrivateKeyPath string
	Passphrase     string

	// Agent is the path to an ssh-agent socket.
	Agent string

	ConnectTimeout time.Duration

	// KnownHostsPath defaults to ~/.ssh/known_hosts. If the file doesn't
	// exist, host keys aren't verified.
	KnownHostsPath string
}

// Mocked out for unit testing.
var readFile = ioutil.ReadFile

// Dial connects to the SFTP server described by opts.
func Dial(ctx context.Context, opts Options) (*FS, error) {
	auths, err := authMethods(opts)
	if err != nil {
		return nil, errors.WithContext(err, "auth")
	}

	hostKeyCallback, err := hostKeyCallback(opts.KnownHostsPath)
	if err != nil {
		return nil, errors.WithContext(err, "known hosts")
	}

	config := &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.ConnectTimeout,
	}

	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WithContext(err, fmt.Sprintf("connect to %s", addr))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return nil, errors.WithContext(err, "ssh handshake")
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WithContext(err, "start sftp subsystem")
	}

	return &FS{client: client, closeConn: conn.Close}, nil
}

func authMethods(opts Options) ([]ssh.AuthMethod, error) {
	var auths []ssh.AuthMethod
	if opts.Agent != "" {
		sock, err := net.Dial("unix", opts.Agent)
		if err != nil {
			return nil, errors.WithContext(err, "connect to agent")
		}
		auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(sock).Signers))
	}

	if opts.PrivateKeyPath != "" {
		keyPath, err := homedir.Expand(opts.PrivateKeyPath)
		if err != nil {
			return nil, errors.WithContext(err, "expand key path")
		}

		key, err := readFile(keyPath)
		if err != nil {
			return nil, errors.WithContext(err, "read private key")
		}

		var signer ssh.Signer
		if opts.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(opts.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, errors.WithContext(err, "parse private key")
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if opts.Password != "" {
		auths = append(auths, ssh.Password(opts.Password))
	}

	if len(auths) == 0 {
		return nil, errors.NewFriendlyError("No SFTP credentials configured. " +
			"Set one of password, privateKeyPath or agent.")
	}
	return auths, nil
}

func hostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}

	path, err := homedir.Expand(knownHostsPath)
	if err != nil {
		return nil, errors.WithContext(err, "expand path")
	}

	if _, err := os.Stat(path); err != nil {
		log.WithField("path", path).Warn(
			"No known_hosts file found. The server's host key will not be verified.")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownhosts.New(path)
}
