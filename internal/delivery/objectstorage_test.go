// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package delivery

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
)

type fakeS3 struct {
	err   error
	input *s3.PutObjectInput
	body  string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = string(data)
	return &s3.PutObjectOutput{}, nil
}

const s3Config = `{"endpoint":"http://minio:9000","region":"us-east-1","bucket":"backups",
	"access_key":"AKIA","secret_key":"secret","path_style":true,"prefix":"prod/"}`

func TestObjectStorageChannel_Deliver(t *testing.T) {
	artifact := writeArtifact(t, "orders.bak.gz", "gzipped")
	fake := &fakeS3{}
	var gotCfg *objectStorageConfig
	ch := &ObjectStorageChannel{newClient: func(cfg *objectStorageConfig) putObjectAPI {
		gotCfg = cfg
		return fake
	}}

	res, err := ch.Deliver(context.Background(), &DeliveryRequest{
		Configuration: json.RawMessage(s3Config),
		ArtifactPath:  artifact,
		Backup:        &models.BackupRecord{ID: "b-1"},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !gotCfg.PathStyle || gotCfg.Endpoint != "http://minio:9000" {
		t.Errorf("config not passed through: %+v", gotCfg)
	}
	if aws.ToString(fake.input.Key) != "prod/orders.bak.gz" || aws.ToString(fake.input.Bucket) != "backups" {
		t.Errorf("put %s/%s", aws.ToString(fake.input.Bucket), aws.ToString(fake.input.Key))
	}
	if aws.ToInt64(fake.input.ContentLength) != int64(len("gzipped")) || fake.body != "gzipped" {
		t.Errorf("body = %q length = %d", fake.body, aws.ToInt64(fake.input.ContentLength))
	}
	if fake.input.Metadata["backup-id"] != "b-1" {
		t.Errorf("metadata = %v", fake.input.Metadata)
	}
	if res.Reference != "s3://backups/prod/orders.bak.gz" {
		t.Errorf("Reference = %q", res.Reference)
	}
}

func TestObjectStorageChannel_ErrorClassification(t *testing.T) {
	artifact := writeArtifact(t, "orders.bak.gz", "x")
	tests := []struct {
		name          string
		err           error
		wantPermanent bool
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}, true},
		{"no such bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, true},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &ObjectStorageChannel{newClient: func(*objectStorageConfig) putObjectAPI {
				return &fakeS3{err: tt.err}
			}}
			_, err := ch.Deliver(context.Background(), &DeliveryRequest{
				Configuration: json.RawMessage(s3Config),
				ArtifactPath:  artifact,
			})
			if err == nil {
				t.Fatal("expected an error")
			}
			if retry.IsPermanent(err) != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v", retry.IsPermanent(err), tt.wantPermanent)
			}
		})
	}
}

type fakeBlob struct {
	container, name string
	content         string
	err             error
}

func (f *fakeBlob) UploadFile(_ context.Context, container, name string, file *os.File, _ *azblob.UploadFileOptions) (azblob.UploadFileResponse, error) {
	f.container, f.name = container, name
	if f.err != nil {
		return azblob.UploadFileResponse{}, f.err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return azblob.UploadFileResponse{}, err
	}
	f.content = string(data)
	return azblob.UploadFileResponse{}, nil
}

func (f *fakeBlob) URL() string { return "https://acct.blob.core.windows.net/" }

func TestAzureBlobChannel_Deliver(t *testing.T) {
	artifact := writeArtifact(t, "orders.bak.gz", "gzipped")
	fake := &fakeBlob{}
	ch := &AzureBlobChannel{newClient: func(*azureBlobConfig) (blobUploader, error) { return fake, nil }}

	res, err := ch.Deliver(context.Background(), &DeliveryRequest{
		Configuration: json.RawMessage(`{"connection_string":"x","container":"backups","prefix":"nightly"}`),
		ArtifactPath:  artifact,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if fake.container != "backups" || fake.name != "nightly/orders.bak.gz" || fake.content != "gzipped" {
		t.Errorf("uploaded %s/%s = %q", fake.container, fake.name, fake.content)
	}
	if res.Reference != "https://acct.blob.core.windows.net/backups/nightly/orders.bak.gz" {
		t.Errorf("Reference = %q", res.Reference)
	}

	fake.err = errors.New("connection reset")
	if _, err := ch.Deliver(context.Background(), &DeliveryRequest{
		Configuration: json.RawMessage(`{"connection_string":"x","container":"backups"}`),
		ArtifactPath:  artifact,
	}); err == nil || retry.IsPermanent(err) {
		t.Errorf("expected a transient error, got %v", err)
	}
}

func TestAzureBlobChannel_BadConnectionString(t *testing.T) {
	artifact := writeArtifact(t, "orders.bak.gz", "x")
	_, err := NewAzureBlobChannel().Deliver(context.Background(), &DeliveryRequest{
		Configuration: json.RawMessage(`{"connection_string":"not-a-connection-string","container":"backups"}`),
		ArtifactPath:  artifact,
	})
	if !retry.IsPermanent(err) {
		t.Errorf("expected a permanent error, got %v", err)
	}
}
