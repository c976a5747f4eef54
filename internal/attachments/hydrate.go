// Package attachments fills in download URLs for attachments the modmail bot
// stored in S3-compatible object storage.
package attachments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/d9705996/modmail-viewer/internal/config"
	"github.com/d9705996/modmail-viewer/internal/threads"
)

// PresignTTL is the lifetime of a presigned download link.
const PresignTTL = 24 * time.Hour

// Presigner signs GET requests for objects.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Hydrator sets the URL of every S3-backed attachment.
type Hydrator struct {
	base    *url.URL
	presign Presigner
}

// NewHydrator builds a Hydrator from the S3 settings. With presigning off,
// URLs are formed as <S3_URL>/<bucket>/<object>; with neither an endpoint
// nor presigning, S3 attachments keep whatever URL they carry.
func NewHydrator(ctx context.Context, cfg config.S3Config) (*Hydrator, error) {
	h := &Hydrator{}
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse S3_URL: %w", err)
		}
		h.base = u
	}
	if cfg.Presigned {
		p, err := NewS3Presigner(ctx, cfg)
		if err != nil {
			return nil, err
		}
		h.presign = p
	}
	return h, nil
}

// NewHydratorWith is NewHydrator with an explicit presigner.
func NewHydratorWith(base string, p Presigner) (*Hydrator, error) {
	h := &Hydrator{presign: p}
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		h.base = u
	}
	return h, nil
}

// Thread hydrates every message of t in place.
func (h *Hydrator) Thread(ctx context.Context, t *threads.Thread) error {
	for i := range t.Messages {
		if err := h.Attachments(ctx, t.Messages[i].Attachments); err != nil {
			return err
		}
	}
	return nil
}

// Attachments hydrates atts in place. Non-S3 attachments are left alone.
func (h *Hydrator) Attachments(ctx context.Context, atts []threads.Attachment) error {
	for i := range atts {
		a := &atts[i]
		if a.Type != threads.AttachmentTypeS3 || a.S3 == nil {
			continue
		}
		switch {
		case h.presign != nil:
			u, err := h.presign.PresignGet(ctx, a.S3.Bucket, a.S3.Object, PresignTTL)
			if err != nil {
				return fmt.Errorf("presign %s/%s: %w", a.S3.Bucket, a.S3.Object, err)
			}
			a.URL = u
		case h.base != nil:
			a.URL = h.base.JoinPath(a.S3.Bucket, a.S3.Object).String()
		}
	}
	return nil
}

// S3Presigner presigns object downloads with the AWS SDK.
type S3Presigner struct {
	presign *s3.PresignClient
}

// NewS3Presigner configures a path-style client for the endpoint in cfg,
// which may be AWS or any S3-compatible store.
func NewS3Presigner(ctx context.Context, cfg config.S3Config) (*S3Presigner, error) {
	endpoint := strings.TrimSuffix(cfg.URL, "/")
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &S3Presigner{presign: s3.NewPresignClient(client)}, nil
}

// PresignGet returns a presigned GET URL for bucket/key valid for ttl.
func (p *S3Presigner) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
