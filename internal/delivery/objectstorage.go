// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
)

type objectStorageConfig struct {
	Endpoint  string `json:"endpoint" validate:"omitempty,url"`
	Region    string `json:"region" validate:"required"`
	Bucket    string `json:"bucket" validate:"required,min=3,max=63"`
	AccessKey string `json:"access_key" validate:"required"`
	SecretKey string `json:"secret_key" validate:"required"`
	PathStyle bool   `json:"path_style"`
	Prefix    string `json:"prefix" validate:"omitempty,max=512"`
}

// putObjectAPI is the subset of *s3.Client the channel uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func newS3Client(cfg *objectStorageConfig) putObjectAPI {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// permanentS3Codes are API error codes a retry cannot fix.
var permanentS3Codes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
	"EntityTooLarge":        true,
}

// ObjectStorageChannel uploads artifacts to an S3-compatible bucket.
type ObjectStorageChannel struct {
	newClient func(cfg *objectStorageConfig) putObjectAPI
}

// NewObjectStorageChannel creates the channel.
func NewObjectStorageChannel() *ObjectStorageChannel {
	return &ObjectStorageChannel{newClient: newS3Client}
}

// Type implements Channel.
func (c *ObjectStorageChannel) Type() models.DeliveryType { return models.DeliveryTypeObjectStorage }

// Validate implements Channel.
func (c *ObjectStorageChannel) Validate(raw json.RawMessage) error {
	var cfg objectStorageConfig
	return decodeConfig(raw, &cfg)
}

// Deliver implements Channel.
func (c *ObjectStorageChannel) Deliver(ctx context.Context, req *DeliveryRequest) (*DeliveryResult, error) {
	var cfg objectStorageConfig
	if err := loadConfig(req.Configuration, &cfg); err != nil {
		return nil, err
	}

	f, err := os.Open(req.ArtifactPath) //nolint:gosec // path of a READY artifact
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("open artifact: %w", err))
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	key := remoteName(cfg.Prefix, req.ArtifactPath)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
	}
	if req.Backup != nil {
		input.Metadata = map[string]string{"backup-id": req.Backup.ID}
	}

	if _, err := c.newClient(&cfg).PutObject(ctx, input); err != nil {
		err = fmt.Errorf("put s3://%s/%s: %w", cfg.Bucket, key, err)
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && permanentS3Codes[apiErr.ErrorCode()] {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	return &DeliveryResult{
		Reference: "s3://" + cfg.Bucket + "/" + key,
		Message:   fmt.Sprintf("uploaded %d bytes", info.Size()),
	}, nil
}
