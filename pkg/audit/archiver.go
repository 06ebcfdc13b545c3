package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver persists expired audit events outside the database. Archive
// returns the location of the written object.
type Archiver interface {
	Archive(ctx context.Context, events []*Event, cutoff time.Time) (string, error)
}

// S3PutObjectAPI is the slice of the S3 client the archiver needs.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads expired events to an S3 bucket as NDJSON objects,
// optionally gzipped. Object keys are prefix/audit-<cutoff date>-<nanos>
// so repeated sweeps on the same day never overwrite each other.
type S3Archiver struct {
	client   S3PutObjectAPI
	bucket   string
	prefix   string
	compress bool
}

// NewS3Archiver creates an S3-backed archiver. The client is usually
// s3.NewFromConfig(cfg), but any PutObject implementation works.
func NewS3Archiver(client S3PutObjectAPI, bucket, prefix string, compress bool) *S3Archiver {
	return &S3Archiver{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		compress: compress,
	}
}

// Archive uploads the batch and returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, events []*Event, cutoff time.Time) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	data, err := exportNDJSON(events)
	if err != nil {
		return "", fmt.Errorf("failed to serialize archive: %w", err)
	}

	key := path.Join(a.prefix, fmt.Sprintf("audit-%s-%d.ndjson", cutoff.Format("2006-01-02"), time.Now().UnixNano()))
	contentType := "application/x-ndjson"

	if a.compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return "", fmt.Errorf("failed to compress archive: %w", err)
		}
		if err := gz.Close(); err != nil {
			return "", fmt.Errorf("failed to compress archive: %w", err)
		}
		data = buf.Bytes()
		key += ".gz"
		contentType = "application/gzip"
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audit archive: %w", err)
	}

	return key, nil
}
