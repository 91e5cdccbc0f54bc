package blob

import (
	"context"
	"fmt"
	"net/http"

	"genomicore/internal/infra/blob/azure"
	"genomicore/internal/infra/blob/fs"
	memorystore "genomicore/internal/infra/blob/memory"
	infraS3 "genomicore/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// AzureConfig re-exports the infra Azure configuration type.
type AzureConfig = azure.Config

// Config selects a blob driver.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
	Azure  AzureConfig
	// HTTPClient overrides the transport used by cloud drivers.
	HTTPClient *http.Client
}

// Open builds a Provider for cfg. An empty driver means the filesystem.
func Open(ctx context.Context, cfg Config) (Provider, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.NewProvider(cfg.FSRoot)
	case DriverS3:
		s3cfg := cfg.S3
		if cfg.HTTPClient != nil {
			s3cfg.HTTPClient = cfg.HTTPClient
		}
		return infraS3.NewProvider(ctx, s3cfg)
	case DriverAzure:
		azcfg := cfg.Azure
		if cfg.HTTPClient != nil {
			azcfg.HTTPClient = cfg.HTTPClient
		}
		return azure.NewProvider(azcfg)
	case DriverMemory:
		return memorystore.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory Provider suitable for tests.
func NewMemory() Provider { return memorystore.NewProvider() }

// NewMockS3ForTests exposes an S3 provider backed by a fake HTTP transport.
func NewMockS3ForTests() Provider { return infraS3.NewMockProviderForTests() }
