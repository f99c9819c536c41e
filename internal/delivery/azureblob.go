// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package delivery

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
)

type azureBlobConfig struct {
	ConnectionString string `json:"connection_string" validate:"required"`
	Container        string `json:"container" validate:"required,min=3,max=63"`
	Prefix           string `json:"prefix" validate:"omitempty,max=512"`
}

// blobUploader is the subset of *azblob.Client the channel uses.
type blobUploader interface {
	UploadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
	URL() string
}

func newAzureBlobClient(cfg *azureBlobConfig) (blobUploader, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: connection string: %v", ErrInvalidConfiguration, err))
	}
	return client, nil
}

// AzureBlobChannel uploads artifacts to an Azure Blob Storage container.
type AzureBlobChannel struct {
	newClient func(cfg *azureBlobConfig) (blobUploader, error)
}

// NewAzureBlobChannel creates the channel.
func NewAzureBlobChannel() *AzureBlobChannel {
	return &AzureBlobChannel{newClient: newAzureBlobClient}
}

// Type implements Channel.
func (c *AzureBlobChannel) Type() models.DeliveryType { return models.DeliveryTypeAzureBlob }

// Validate implements Channel.
func (c *AzureBlobChannel) Validate(raw json.RawMessage) error {
	var cfg azureBlobConfig
	return decodeConfig(raw, &cfg)
}

// Deliver implements Channel.
func (c *AzureBlobChannel) Deliver(ctx context.Context, req *DeliveryRequest) (*DeliveryResult, error) {
	var cfg azureBlobConfig
	if err := loadConfig(req.Configuration, &cfg); err != nil {
		return nil, err
	}

	f, err := os.Open(req.ArtifactPath) //nolint:gosec // path of a READY artifact
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("open artifact: %w", err))
	}
	defer f.Close()

	client, err := c.newClient(&cfg)
	if err != nil {
		return nil, err
	}

	blobName := remoteName(cfg.Prefix, req.ArtifactPath)
	if _, err := client.UploadFile(ctx, cfg.Container, blobName, f, nil); err != nil {
		err = fmt.Errorf("upload blob %s/%s: %w", cfg.Container, blobName, err)
		if bloberror.HasCode(err,
			bloberror.ContainerNotFound,
			bloberror.AuthenticationFailed,
			bloberror.AuthorizationFailure,
			bloberror.InvalidResourceName,
		) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	return &DeliveryResult{
		Reference: strings.TrimRight(client.URL(), "/") + "/" + cfg.Container + "/" + blobName,
		Message:   "uploaded to container " + cfg.Container,
	}, nil
}
