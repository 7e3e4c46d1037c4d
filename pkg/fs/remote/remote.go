// Package remote opens the FileSystem described by a profile.
package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
	"github.com/sidkik/remotesync/pkg/fs/ftpfs"
	"github.com/sidkik/remotesync/pkg/fs/s3fs"
	"github.com/sidkik/remotesync/pkg/fs/sftpfs"
)

// FileSystem is a remote filesystem that holds a connection.
type FileSystem interface {
	fs.FileSystem
	io.Closer
}

// Dialer opens the FileSystem for a profile.
type Dialer func(ctx context.Context, profile config.Profile) (FileSystem, error)

// Dial connects to the remote described by profile.
func Dial(ctx context.Context, profile config.Profile) (FileSystem, error) {
	var remote FileSystem
	var err error
	switch profile.Protocol {
	case config.ProtocolSFTP:
		remote, err = sftpfs.Dial(ctx, sftpfs.Options{
			Host:           profile.Host,
			Port:           profile.Port,
			Username:       profile.Username,
			Password:       profile.Password,
			PrivateKeyPath: profile.PrivateKeyPath,
			Passphrase:     profile.Passphrase,
			Agent:          profile.Agent,
			ConnectTimeout: profile.Timeout(),
		})
	case config.ProtocolFTP:
		remote, err = ftpfs.Dial(ctx, ftpfs.Options{
			Host:           profile.Host,
			Port:           profile.Port,
			Username:       profile.Username,
			Password:       profile.Password,
			Secure:         ftpfs.Secure(profile.Secure),
			ConnectTimeout: profile.Timeout(),
		})
	case config.ProtocolS3:
		remote, err = s3fs.Dial(ctx, s3fs.Options{
			Bucket:    profile.Bucket,
			Region:    profile.Region,
			Endpoint:  profile.Endpoint,
			PathStyle: profile.PathStyle,
			AccessKey: profile.Username,
			SecretKey: profile.Password,
		})
	case config.ProtocolLocal:
		remote = localFS{fs.NewAfero(afero.NewOsFs())}
	default:
		return nil, errors.ConfigInvalid{Field: "protocol",
			Reason: fmt.Sprintf("unsupported protocol %q", profile.Protocol)}
	}

	if err != nil {
		return nil, errors.WithContext(err, fmt.Sprintf("dial %s", profile.Protocol))
	}
	return remote, nil
}

// localFS lets a local directory stand in as the remote.
type localFS struct {
	*fs.Afero
}

func (localFS) Close() error {
	return nil
}
