// Package s3fs implements storage.FS on an S3-compatible bucket (AWS S3,
// MinIO). Directories are zero-length marker objects whose key ends in "/";
// mode and ownership travel as object metadata.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/credstore/internal/storage"
)

const (
	metaMode = "mode"
	metaUID  = "uid"
	metaGID  = "gid"
)

// Client is the subset of *s3.Client used here.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Options configures a bucket connection.
type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

type FS struct {
	client Client
	bucket string
	prefix string
}

var _ storage.FS = (*FS)(nil)

// New connects to the bucket described by opts using static credentials.
func New(ctx context.Context, opts Options) (*FS, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})
	return NewWithClient(client, opts.Bucket, opts.Prefix), nil
}

func NewWithClient(client Client, bucket, prefix string) *FS {
	return &FS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (f *FS) key(name string) string {
	k := strings.TrimPrefix(storage.Clean(name), "/")
	if f.prefix == "" {
		return k
	}
	return path.Join(f.prefix, k)
}

func (f *FS) dirKey(name string) string {
	return strings.TrimSuffix(f.key(name), "/") + "/"
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func (f *FS) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return f.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(key)})
}

// Exists reports a file object or a directory marker at name.
func (f *FS) Exists(ctx context.Context, name string) (bool, error) {
	for _, key := range []string{f.key(name), f.dirKey(name)} {
		_, err := f.head(ctx, key)
		if err == nil {
			return true, nil
		}
		if !isNotFound(err) {
			return false, err
		}
	}
	return false, nil
}

// MkdirAll writes a marker for name and each missing parent.
func (f *FS) MkdirAll(ctx context.Context, name string, perm fs.FileMode) error {
	for p := storage.Clean(name); p != "/"; p = path.Dir(p) {
		key := f.dirKey(p)
		if _, err := f.head(ctx, key); err == nil {
			continue
		} else if !isNotFound(err) {
			return err
		}
		if err := f.put(ctx, key, nil, metadata(perm, 0, 0)); err != nil {
			return err
		}
	}
	return nil
}

func (f *FS) get(ctx context.Context, name string) ([]byte, map[string]string, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(f.key(name))})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, err
	}
	return data, out.Metadata, nil
}

func (f *FS) ReadFile(ctx context.Context, name string) ([]byte, error) {
	data, _, err := f.get(ctx, name)
	return data, err
}

func (f *FS) put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      meta,
	})
	return err
}

// AppendFile rewrites the object with data appended. S3 has no append, so
// concurrent appends to one object are last-writer-wins.
func (f *FS) AppendFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error {
	existing, meta, err := f.get(ctx, name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if meta == nil {
		meta = metadata(perm, 0, 0)
	}
	return f.put(ctx, f.key(name), append(existing, data...), meta)
}

// WriteFile replaces the object; S3 puts are atomic per object. Ownership
// recorded on a previous version is kept.
func (f *FS) WriteFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error {
	meta := metadata(perm, 0, 0)
	if out, err := f.head(ctx, f.key(name)); err == nil {
		meta[metaUID] = out.Metadata[metaUID]
		meta[metaGID] = out.Metadata[metaGID]
	} else if !isNotFound(err) {
		return err
	}
	return f.put(ctx, f.key(name), data, meta)
}

// Chown rewrites the object's ownership metadata in place.
func (f *FS) Chown(ctx context.Context, name string, uid, gid int) error {
	key := f.key(name)
	out, err := f.head(ctx, key)
	if isNotFound(err) {
		key = f.dirKey(name)
		out, err = f.head(ctx, key)
	}
	if err != nil {
		if isNotFound(err) {
			return &fs.PathError{Op: "chown", Path: name, Err: fs.ErrNotExist}
		}
		return err
	}

	meta := make(map[string]string, len(out.Metadata)+2)
	for k, v := range out.Metadata {
		meta[k] = v
	}
	meta[metaUID] = strconv.Itoa(uid)
	meta[metaGID] = strconv.Itoa(gid)

	_, err = f.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(f.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(f.bucket + "/" + key),
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	return err
}

func metadata(perm fs.FileMode, uid, gid int) map[string]string {
	return map[string]string{
		metaMode: strconv.FormatUint(uint64(perm.Perm()), 8),
		metaUID:  strconv.Itoa(uid),
		metaGID:  strconv.Itoa(gid),
	}
}
