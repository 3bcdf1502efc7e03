package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectPutter is the part of the S3 API the destination uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination uploads the export to an S3-compatible bucket. The latest
// export always lives at key; with history enabled every upload is also
// kept under a timestamped key next to it.
type S3Destination struct {
	api     objectPutter
	bucket  string
	key     string
	history bool
	now     func() time.Time
}

// NewS3Destination creates an S3 destination. A non-empty endpoint turns
// on path-style addressing for MinIO and similar servers.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string, history bool) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return newS3Destination(s3.NewFromConfig(cfg, opts...), bucket, key, history), nil
}

func newS3Destination(api objectPutter, bucket, key string, history bool) *S3Destination {
	return &S3Destination{api: api, bucket: bucket, key: key, history: history, now: time.Now}
}

func (d *S3Destination) Name() string { return "s3://" + d.bucket + "/" + d.key }

// historyKey places a snapshot under "<dir>/history/<stamp>-<file>".
func historyKey(key string, at time.Time) string {
	dir, file := path.Split(key)
	return strings.TrimPrefix(path.Join(dir, "history", at.UTC().Format("20060102T150405Z")+"-"+file), "/")
}

// Write puts the export at the configured key, replacing the last one.
// The object metadata records the format version and the SHA-256 of the
// body so a downloaded copy can be checked.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	sum := sha256.Sum256(data)
	meta := map[string]string{
		"format-version": FormatVersion,
		"content-sha256": hex.EncodeToString(sum[:]),
	}

	keys := []string{d.key}
	if d.history {
		keys = append(keys, historyKey(d.key, d.now()))
	}
	for _, k := range keys {
		_, err := d.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(d.bucket),
			Key:         aws.String(k),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/x-ndjson"),
			Metadata:    meta,
		})
		if err != nil {
			return fmt.Errorf("s3 put %s: %w", k, err)
		}
	}
	return nil
}
