// Package s3fs implements fs.FileSystem over an S3 compatible object store.
//
// Directories are virtual. A path is a directory if a "dir/" marker object
// exists or any key starts with "dir/". Writes don't require the parent
// directory to exist, since object stores have no such constraint.
package s3fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
)

// maxDeleteBatch is the most keys DeleteObjects accepts in one request.
const maxDeleteBatch = 1000

// API is the subset of the S3 client used by FS.
type API interface {
	s3.ListObjectsV2APIClient
	s3.HeadObjectAPIClient
	manager.UploadAPIClient
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(context.Context, *s3.DeleteObjectsInput, ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Options describe how to reach the bucket.
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool

	// AccessKey and SecretKey are optional. When empty, the default AWS
	// credential chain is used.
	AccessKey string
	SecretKey string
}

// FS is an fs.FileSystem backed by a single bucket.
type FS struct {
	client   API
	uploader *manager.Uploader
	bucket   string
}

// Dial builds an S3 client from opts.
func Dial(ctx context.Context, opts Options) (*FS, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.WithContext(err, "load aws config")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return New(client, opts.Bucket), nil
}

// New wraps an existing client.
func New(client API, bucket string) *FS {
	return &FS{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}
}

// Close is a no-op. The HTTP client has no session to tear down.
func (f *FS) Close() error {
	return nil
}

// key converts an absolute slash path into an object key.
func key(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// dirPrefix returns the key prefix of everything inside the directory p.
func dirPrefix(p string) string {
	if k := key(p); k != "" {
		return k + "/"
	}
	return ""
}

func (f *FS) List(ctx context.Context, dir string) ([]fs.FileEntry, error) {
	prefix := dirPrefix(dir)
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []fs.FileEntry
	found := prefix == ""
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", dir, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			entries = append(entries, fs.FileEntry{
				Name: name,
				Path: fs.Join(dir, name),
				Kind: fs.Directory,
			})
		}

		for _, obj := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				// The directory's own marker.
				continue
			}
			entries = append(entries, fs.FileEntry{
				Name:    name,
				Path:    fs.Join(dir, name),
				Kind:    fs.File,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
		found = found || len(page.CommonPrefixes) > 0
	}

	if !found {
		entry, err := f.Stat(ctx, dir)
		if err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			return nil, errors.IOError{Op: "list", Path: dir, Err: errors.New("not a directory")}
		}
	}
	return entries, nil
}

func (f *FS) Stat(ctx context.Context, p string) (fs.FileEntry, error) {
	k := key(p)
	if k == "" {
		return fs.FileEntry{Name: "/", Path: "/", Kind: fs.Directory}, nil
	}

	head, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(k),
	})
	if err == nil {
		return fs.FileEntry{
			Name:    path.Base(k),
			Path:    p,
			Kind:    fs.File,
			Size:    aws.ToInt64(head.ContentLength),
			ModTime: aws.ToTime(head.LastModified),
		}, nil
	}

	if err = classify("stat", p, err); !errors.IsNotFound(err) {
		return fs.FileEntry{}, err
	}

	out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(k + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fs.FileEntry{}, classify("stat", p, err)
	}
	if len(out.Contents) == 0 {
		return fs.FileEntry{}, errors.FileNotFound{Path: p}
	}
	return fs.FileEntry{Name: path.Base(k), Path: p, Kind: fs.Directory}, nil
}

func (f *FS) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key(p)),
	})
	if err != nil {
		return nil, classify("get", p, err)
	}
	return out.Body, nil
}

func (f *FS) WriteFile(ctx context.Context, p string, r io.Reader, _ os.FileMode) error {
	_, err := f.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key(p)),
		Body:   r,
	})
	return classify("put", p, err)
}

func (f *FS) Mkdir(ctx context.Context, p string) error {
	if key(p) == "" {
		return nil
	}

	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(dirPrefix(p)),
		Body:   bytes.NewReader(nil),
	})
	return classify("mkdir", p, err)
}

func (f *FS) Remove(ctx context.Context, p string, recursive bool) error {
	entry, err := f.Stat(ctx, p)
	if err != nil {
		return err
	}

	if !entry.IsDir() {
		_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(key(p)),
		})
		return classify("delete", p, err)
	}

	keys, err := f.keysUnder(ctx, p)
	if err != nil {
		return err
	}

	prefix := dirPrefix(p)
	if !recursive && (len(keys) > 1 || len(keys) == 1 && keys[0] != prefix) {
		return errors.IOError{Op: "delete", Path: p, Err: errors.New("directory not empty")}
	}
	return f.deleteKeys(ctx, p, keys)
}

// SetMode is a no-op: objects have no permission bits.
func (f *FS) SetMode(ctx context.Context, _ string, _ os.FileMode) error {
	return ctx.Err()
}

func (f *FS) keysUnder(ctx context.Context, p string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(dirPrefix(p)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", p, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (f *FS) deleteKeys(ctx context.Context, p string, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}

		var ids []types.ObjectIdentifier
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := f.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(f.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return classify("delete", p, err)
		}

		if len(out.Errors) != 0 {
			first := out.Errors[0]
			log.WithField("failed", len(out.Errors)).Debug("Partial S3 batch delete")
			return errors.IOError{
				Op:   "delete",
				Path: "/" + aws.ToString(first.Key),
				Err:  errors.New(aws.ToString(first.Message)),
			}
		}
	}
	return nil
}

func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return errors.FileNotFound{Path: p}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return errors.FileNotFound{Path: p}
		case "AccessDenied", "Forbidden":
			return errors.PermissionDenied{Path: p}
		}
	}
	return fs.Classify(op, p, err)
}
