package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/ent0n29/runcoach/internal/logging"
	"github.com/ent0n29/runcoach/internal/observability"
	"github.com/ent0n29/runcoach/internal/store"
)

// DefaultExportExpiry bounds presigned export links.
const DefaultExportExpiry = 15 * time.Minute

var ErrDisabled = errors.New("plan archive is not configured")

// Config points the archiver at an S3-compatible bucket. Endpoint is only set
// for non-AWS backends such as MinIO.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// S3Archiver keeps a copy of every committed plan version as a JSON object.
type S3Archiver struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewS3Archiver(ctx context.Context, cfg Config, metrics *observability.Metrics) (*S3Archiver, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	a := &S3Archiver{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		metrics: metrics,
		log:     logging.Component("archive"),
	}
	a.log.Info().Str("bucket", cfg.Bucket).Str("endpoint", endpoint).Msg("plan archive enabled")
	return a, nil
}

// ObjectKey is the bucket key for one plan version.
func ObjectKey(clientID string, version int) string {
	return fmt.Sprintf("%sv%06d.json", clientPrefix(clientID), version)
}

func clientPrefix(clientID string) string {
	return "clients/" + url.PathEscape(clientID) + "/plans/"
}

// Put uploads v. It has the shape of a versioning commit hook.
func (a *S3Archiver) Put(ctx context.Context, v store.PlanVersion) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan version: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ObjectKey(v.ClientID, v.Version)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.metrics.ObserveArchiveError("put")
		return fmt.Errorf("archive plan v%d: %w", v.Version, err)
	}
	return nil
}

// Purge removes every archived version for the client. It has the shape of
// a session reset hook.
func (a *S3Archiver) Purge(ctx context.Context, clientID string) error {
	pages := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(clientPrefix(clientID)),
	})
	deleted := 0
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			a.metrics.ObserveArchiveError("list")
			return fmt.Errorf("list archived plans: %w", err)
		}
		for _, obj := range page.Contents {
			_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(a.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				a.metrics.ObserveArchiveError("delete")
				return fmt.Errorf("delete %s: %w", aws.ToString(obj.Key), err)
			}
			deleted++
		}
	}
	a.log.Debug().Str("client_id", clientID).Int("objects", deleted).Msg("archive purged")
	return nil
}

// ExportURL returns a presigned download link for one archived version.
func (a *S3Archiver) ExportURL(ctx context.Context, clientID string, version int, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = DefaultExportExpiry
	}
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(ObjectKey(clientID, version)),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		a.metrics.ObserveArchiveError("presign")
		return "", fmt.Errorf("presign export: %w", err)
	}
	return req.URL, nil
}
