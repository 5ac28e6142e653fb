// Package uploads stores message attachments in S3 and returns their public
// URLs.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"chatsync/internal/domain"
)

// uploaderAPI is the part of *manager.Uploader this package needs.
type uploaderAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Client uploads attachments under {prefix}/{conversation}/{uuid}-{name}.
type Client struct {
	api    uploaderAPI
	bucket string
	prefix string
}

func New(api uploaderAPI, bucket, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("uploads: api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("uploads: bucket must not be empty")
	}
	return &Client{api: api, bucket: bucket, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}, nil
}

// NewFromS3 builds a Client on top of a managed multipart uploader.
func NewFromS3(client *s3.Client, bucket, prefix string) (*Client, error) {
	return New(manager.NewUploader(client), bucket, prefix)
}

func (c *Client) key(conversationID, name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "attachment"
	}
	parts := []string{conversationID, uuid.NewString() + "-" + name}
	if c.prefix != "" {
		parts = append([]string{c.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Upload stores f and returns the location S3 reports for it.
func (c *Client) Upload(ctx context.Context, conversationID string, f domain.LocalFile) (string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("uploads: open %s: %w", f.Name, err)
	}
	defer func() { _ = file.Close() }()

	in := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(conversationID, f.Name)),
		Body:   file,
	}
	if f.ContentType != "" {
		in.ContentType = aws.String(f.ContentType)
	}
	out, err := c.api.Upload(ctx, in)
	if err != nil {
		return "", fmt.Errorf("uploads: put %s: %w", aws.ToString(in.Key), err)
	}
	if out == nil || out.Location == "" {
		return "", fmt.Errorf("uploads: put %s: no location returned", aws.ToString(in.Key))
	}
	return out.Location, nil
}
