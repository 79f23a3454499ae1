// Package glue implements the catalog.Catalog interface on the AWS Glue
// Data Catalog.
package glue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/dray-io/housekeeper/internal/catalog"
)

// Config configures a Glue catalog.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1").
	Region string

	// CatalogID is the account id owning the catalog.
	// If empty, the caller's account catalog is used.
	CatalogID string

	// Endpoint overrides the Glue endpoint (for local emulators).
	Endpoint string

	// AccessKeyID is the AWS access key ID.
	// If empty, uses the default credential chain.
	AccessKeyID string

	// SecretAccessKey is the AWS secret access key.
	// If empty, uses the default credential chain.
	SecretAccessKey string
}

// API is the subset of the Glue client the catalog calls.
type API interface {
	glue.GetPartitionsAPIClient
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	DeleteTable(ctx context.Context, params *glue.DeleteTableInput, optFns ...func(*glue.Options)) (*glue.DeleteTableOutput, error)
	DeletePartition(ctx context.Context, params *glue.DeletePartitionInput, optFns ...func(*glue.Options)) (*glue.DeletePartitionOutput, error)
}

// Catalog implements catalog.Catalog over Glue.
type Catalog struct {
	client    API
	catalogID *string
}

// New creates a Glue catalog from the default AWS configuration chain.
func New(ctx context.Context, cfg Config) (*Catalog, error) {
	opts := []func(*config.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	} else {
		opts = append(opts, config.WithRegion("us-east-1"))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("glue: failed to load AWS config: %w", err)
	}

	var glueOpts []func(*glue.Options)
	if cfg.Endpoint != "" {
		glueOpts = append(glueOpts, func(o *glue.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithClient(glue.NewFromConfig(awsCfg, glueOpts...), cfg.CatalogID), nil
}

// NewWithClient wraps an existing Glue client.
func NewWithClient(client API, catalogID string) *Catalog {
	c := &Catalog{client: client}
	if catalogID != "" {
		c.catalogID = aws.String(catalogID)
	}
	return c
}

func (c *Catalog) getTable(ctx context.Context, op, database, table string) (*types.Table, error) {
	out, err := c.client.GetTable(ctx, &glue.GetTableInput{
		CatalogId:    c.catalogID,
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return nil, wrapError(op, database, table, "", err)
	}
	if out.Table == nil {
		return nil, &catalog.Error{Op: op, Database: database, Table: table, Err: catalog.ErrNotFound}
	}
	return out.Table, nil
}

// TableExists reports whether the table is registered.
func (c *Catalog) TableExists(ctx context.Context, database, table string) (bool, error) {
	_, err := c.getTable(ctx, "TableExists", database, table)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DropTable removes the table definition. Glue never deletes data files.
func (c *Catalog) DropTable(ctx context.Context, database, table string) error {
	_, err := c.client.DeleteTable(ctx, &glue.DeleteTableInput{
		CatalogId:    c.catalogID,
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return wrapError("DropTable", database, table, "", err)
	}
	return nil
}

// DropPartition removes one partition definition.
func (c *Catalog) DropPartition(ctx context.Context, database, table, partitionName string) error {
	_, values, err := catalog.ParsePartitionName(partitionName)
	if err != nil {
		return &catalog.Error{Op: "DropPartition", Database: database, Table: table, Partition: partitionName, Err: err}
	}

	_, err = c.client.DeletePartition(ctx, &glue.DeletePartitionInput{
		CatalogId:       c.catalogID,
		DatabaseName:    aws.String(database),
		TableName:       aws.String(table),
		PartitionValues: values,
	})
	if err != nil {
		return wrapError("DropPartition", database, table, partitionName, err)
	}
	return nil
}

// GetTablePartitionsAndPaths pages through every partition of the table.
func (c *Catalog) GetTablePartitionsAndPaths(ctx context.Context, database, table string) (map[string]string, error) {
	t, err := c.getTable(ctx, "GetTablePartitionsAndPaths", database, table)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(t.PartitionKeys))
	for i, col := range t.PartitionKeys {
		keys[i] = aws.ToString(col.Name)
	}

	result := make(map[string]string)
	if len(keys) == 0 {
		return result, nil
	}

	paginator := glue.NewGetPartitionsPaginator(c.client, &glue.GetPartitionsInput{
		CatalogId:    c.catalogID,
		DatabaseName: aws.String(database),
		TableName:    aws.String(table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapError("GetTablePartitionsAndPaths", database, table, "", err)
		}
		for _, p := range page.Partitions {
			name, err := catalog.PartitionName(keys, p.Values)
			if err != nil {
				return nil, &catalog.Error{Op: "GetTablePartitionsAndPaths", Database: database, Table: table, Err: err}
			}
			var location string
			if p.StorageDescriptor != nil {
				location = aws.ToString(p.StorageDescriptor.Location)
			}
			result[name] = location
		}
	}
	return result, nil
}

// GetTableProperties returns the table parameters. The Glue table type,
// when set, is reported under "table_type" unless a parameter already
// carries it.
func (c *Catalog) GetTableProperties(ctx context.Context, database, table string) (map[string]string, error) {
	t, err := c.getTable(ctx, "GetTableProperties", database, table)
	if err != nil {
		return nil, err
	}
	props := make(map[string]string, len(t.Parameters)+1)
	for k, v := range t.Parameters {
		props[k] = v
	}
	if _, ok := props["table_type"]; !ok && t.TableType != nil {
		props["table_type"] = aws.ToString(t.TableType)
	}
	return props, nil
}

// GetOutputFormat returns the storage descriptor's output format class.
func (c *Catalog) GetOutputFormat(ctx context.Context, database, table string) (string, error) {
	t, err := c.getTable(ctx, "GetOutputFormat", database, table)
	if err != nil {
		return "", err
	}
	if t.StorageDescriptor == nil {
		return "", nil
	}
	return aws.ToString(t.StorageDescriptor.OutputFormat), nil
}

func wrapError(op, database, table, partition string, err error) error {
	var notFound *types.EntityNotFoundException
	if errors.As(err, &notFound) {
		err = catalog.ErrNotFound
	}
	return &catalog.Error{Op: op, Database: database, Table: table, Partition: partition, Err: err}
}

// Verify interface compliance at compile time.
var (
	_ catalog.Catalog = (*Catalog)(nil)
	_ API             = (*glue.Client)(nil)
)
