package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

var (
	errNoProject     = errors.New("gcp project id is required")
	errNoDataset     = errors.New("bigquery dataset is required")
	errNoTable       = errors.New("bigquery table name is required")
	errUninitialized = errors.New("bigquery client is not initialized")
)

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// Client wraps a BigQuery connection scoped to one dataset.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	tables  []string
}

// NewClient creates a BigQuery client and fails fast when the configured
// dataset or any configured table is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	datasetID := strings.TrimSpace(cfg.Dataset)
	tables := tableNames(cfg)
	switch {
	case projectID == "":
		return nil, errNoProject
	case datasetID == "":
		return nil, errNoDataset
	case len(tables) == 0:
		return nil, errNoTable
	}

	raw, err := bigquery.NewClient(ctx, projectID, credentialOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	client := &Client{
		client:  raw,
		dataset: raw.Dataset(datasetID),
		tables:  tables,
	}

	if err := client.verifySchema(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(ctx, "bigquery client initialized")
	}
	return client, nil
}

// credentialOptions prefers inline JSON credentials over a credentials file.
func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if json := strings.TrimSpace(gcp.CredentialsJSON); json != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(json))}
	}
	if file := strings.TrimSpace(gcp.ApplicationCredentials); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func tableNames(cfg config.BigQueryConfig) []string {
	var tables []string
	if name := strings.TrimSpace(cfg.EnrollmentFactsTable); name != "" {
		tables = append(tables, name)
	}
	return tables
}

// verifySchema confirms the dataset and every configured table exist. It
// runs at startup and again on each Ping.
func (c *Client) verifySchema(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errUninitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("bigquery dataset %q not found", c.dataset.DatasetID)
		}
		return fmt.Errorf("dataset %q metadata: %w", c.dataset.DatasetID, err)
	}
	for _, name := range c.tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("bigquery table %q not found", name)
			}
			return fmt.Errorf("table %q metadata: %w", name, err)
		}
	}
	return nil
}

// Ping verifies the dataset and tables are still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errUninitialized
	}
	return c.verifySchema(ctx)
}

// InsertRows streams rows into a table of the configured dataset.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errUninitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errNoTable
	}
	if len(rows) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr != nil && apiErr.Code == http.StatusNotFound
}
