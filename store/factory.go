package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Options selects and configures a backend.
type Options struct {
	// Backend is one of "json", "sqlite", "memory", "dynamodb".
	Backend string

	// DataDir is the storage root for the json and sqlite backends.
	DataDir string

	// DynamoTable, DynamoRegion and DynamoEndpoint configure the dynamodb
	// backend. An empty region or endpoint falls back to the SDK defaults;
	// the endpoint is mostly useful for DynamoDB Local.
	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string
}

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"     - one JSON file per record in DataDir (default)
//	"sqlite"   - SQLite database at DataDir/lists.db
//	"memory"   - in-memory (ephemeral, for testing)
//	"dynamodb" - DynamoDB table DynamoTable
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "json", "":
		return NewJsonFileStore(opts.DataDir)
	case "sqlite":
		return NewSqliteStore(filepath.Join(opts.DataDir, "lists.db"))
	case "memory":
		return NewMemoryStore(), nil
	case "dynamodb":
		if opts.DynamoTable == "" {
			return nil, errors.New("dynamodb backend requires a table name")
		}
		client, err := newDynamoClient(ctx, opts)
		if err != nil {
			return nil, err
		}
		return NewDynamoStore(client, opts.DynamoTable), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, memory, dynamodb)", opts.Backend)
	}
}

func newDynamoClient(ctx context.Context, opts Options) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.DynamoRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.DynamoRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.DynamoEndpoint)
		}
	}), nil
}
