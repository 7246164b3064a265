// Package publish mirrors generated pages to remote storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Publisher receives every page a pass writes or removes.
type Publisher interface {
	Put(ctx context.Context, name, path string) error
	Delete(ctx context.Context, name string) error
}

// ObjectAPI is the part of the S3 client the mirror uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 mirrors pages into a bucket under a key prefix.
type S3 struct {
	client ObjectAPI
	bucket string
	prefix string
}

// ParseTarget splits "s3://bucket/prefix" into bucket and prefix.
func ParseTarget(target string) (bucket, prefix string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("publish target %q: %w", target, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("publish target %q: want s3://bucket[/prefix]", target)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// NewS3 builds a mirror for target using the default AWS credential chain.
func NewS3(ctx context.Context, target string) (*S3, error) {
	bucket, prefix, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewS3WithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewS3WithClient builds a mirror over an existing client.
func NewS3WithClient(client ObjectAPI, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put uploads the file at p as name.
func (s *S3) Put(ctx context.Context, name, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", name, err)
	}
	defer f.Close()

	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        f,
		ContentType: aws.String(ctype),
	})
	if err != nil {
		return fmt.Errorf("publishing %s to s3://%s/%s: %w", name, s.bucket, s.key(name), err)
	}
	return nil
}

// Delete removes name from the bucket.
func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("unpublishing %s: %w", name, err)
	}
	return nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, string) error { return nil }
func (Nop) Delete(context.Context, string) error      { return nil }

// ErrRecorded is returned by Recorder for names listed in Fail.
var ErrRecorded = errors.New("publish refused")

// Recorder remembers calls in order; names in Fail are refused.
type Recorder struct {
	Puts    []string
	Deletes []string
	Fail    map[string]bool
}

func (r *Recorder) Put(_ context.Context, name, _ string) error {
	if r.Fail[name] {
		return fmt.Errorf("%w: %s", ErrRecorded, name)
	}
	r.Puts = append(r.Puts, name)
	return nil
}

func (r *Recorder) Delete(_ context.Context, name string) error {
	if r.Fail[name] {
		return fmt.Errorf("%w: %s", ErrRecorded, name)
	}
	r.Deletes = append(r.Deletes, name)
	return nil
}
