// Package azure implements blob storage on Azure Blob Storage. Buckets map to
// containers under one service URL.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"genomicore/internal/blob/core"
)

// Config holds explicit construction parameters.
type Config struct {
	// ServiceURL is the account endpoint, optionally carrying a SAS token,
	// e.g. https://account.blob.core.windows.net/?sv=...
	ServiceURL string
	HTTPClient *http.Client
}

// Provider shares one azblob client across containers.
type Provider struct {
	client *azblob.Client
}

// NewProvider builds a SAS/anonymous client for cfg.ServiceURL.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ServiceURL == "" {
		return nil, fmt.Errorf("azure service url required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	client, err := azblob.NewClientWithNoCredential(cfg.ServiceURL, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: httpClient},
	})
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Driver returns the blob driver identifier.
func (p *Provider) Driver() core.Driver { return core.DriverAzure }

// Bucket binds the shared client to one container.
func (p *Provider) Bucket(_ context.Context, name string) (core.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("azure container required")
	}
	return &Store{client: p.client, container: name}, nil
}

// Store implements core.Store for a single container.
type Store struct {
	client    *azblob.Client
	container string
}

func (s *Store) Driver() core.Driver { return core.DriverAzure }

// Put uploads with If-None-Match: * so an existing blob is never overwritten.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	ifNoneMatch := azcore.ETagAny
	upload := &azblob.UploadBufferOptions{
		Metadata: toAzureMetadata(opts.Metadata),
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &ifNoneMatch},
		},
	}
	if opts.ContentType != "" {
		ct := opts.ContentType
		upload.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &ct}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, key, body, upload); err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
		}
		return core.Info{}, err
	}
	return s.Head(ctx, key)
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		return core.Info{}, nil, translate(key, err)
	}
	info := core.Info{
		Key:         key,
		Size:        deref(resp.ContentLength),
		ContentType: deref(resp.ContentType),
		Metadata:    fromAzureMetadata(resp.Metadata),
	}
	if resp.ETag != nil {
		info.ETag = strings.Trim(string(*resp.ETag), "\"")
	}
	if resp.LastModified != nil {
		info.LastModified = resp.LastModified.UTC()
	}
	return info, resp.Body, nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	props, err := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return core.Info{}, translate(key, err)
	}
	info := core.Info{
		Key:         key,
		Size:        deref(props.ContentLength),
		ContentType: deref(props.ContentType),
		Metadata:    fromAzureMetadata(props.Metadata),
	}
	if props.ETag != nil {
		info.ETag = strings.Trim(string(*props.ETag), "\"")
	}
	if props.LastModified != nil {
		info.LastModified = props.LastModified.UTC()
	}
	return info, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.DeleteBlob(ctx, s.container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var opts azblob.ListBlobsFlatOptions
	if prefix != "" {
		opts.Prefix = &prefix
	}
	var infos []core.Info
	pager := s.client.NewListBlobsFlatPager(s.container, &opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := core.Info{Key: *item.Name}
			if p := item.Properties; p != nil {
				info.Size = deref(p.ContentLength)
				info.ContentType = deref(p.ContentType)
				if p.ETag != nil {
					info.ETag = strings.Trim(string(*p.ETag), "\"")
				}
				if p.LastModified != nil {
					info.LastModified = p.LastModified.UTC()
				}
			}
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL is not offered; SAS tokens are issued outside this process.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

func translate(key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return err
}

func toAzureMetadata(in map[string]string) map[string]*string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]*string, len(in))
	for k, v := range in {
		v := v
		out[k] = &v
	}
	return out
}

// fromAzureMetadata lowercases keys; the SDK returns canonical header casing.
func fromAzureMetadata(in map[string]*string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != nil {
			out[strings.ToLower(k)] = *v
		}
	}
	return out
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
