package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

var (
	errMissingProject = errors.New("gcp project id is not set")
	errNoSubscription = errors.New("no pubsub subscription configured")
	errNotInitialized = errors.New("pubsub client is not initialized")
)

// Client wraps the Pub/Sub v2 client with project-qualified name handling.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient creates a Pub/Sub v2 client and verifies the configured
// subscriptions exist before anyone starts consuming.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errMissingProject
	}

	raw, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{client: raw, projectID: gcp.ProjectID, cfg: cfg}

	if err := c.verifySubscriptions(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(ctx, "pubsub client ready")
	}
	return c, nil
}

func (c *Client) verifySubscriptions(ctx context.Context) error {
	checked := 0
	for _, name := range []string{c.cfg.AnalyticsSubscription} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		checked++
		if err := c.lookupSubscription(ctx, name); err != nil {
			return err
		}
	}
	if checked == 0 {
		return errNoSubscription
	}
	return nil
}

func (c *Client) lookupSubscription(ctx context.Context, name string) error {
	resource := c.resourceName("subscriptions", name)
	if resource == "" {
		return fmt.Errorf("subscription %q cannot be qualified", name)
	}

	_, err := c.client.SubscriptionAdminClient.GetSubscription(
		ctx,
		&pubsubpb.GetSubscriptionRequest{Subscription: resource},
	)
	if err != nil {
		// The v2 API speaks gRPC status codes.
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("subscription %q not found", name)
		}
		return fmt.Errorf("look up subscription %q: %w", name, err)
	}
	return nil
}

// Subscription returns a Subscriber handle for a subscription ID or full
// resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	resource := c.resourceName("subscriptions", name)
	if resource == "" {
		return nil
	}
	return c.client.Subscriber(resource)
}

// AnalyticsSubscription returns the subscriber for the analytics feed.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// Publisher returns a publisher handle for a topic ID or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	resource := c.resourceName("topics", name)
	if resource == "" {
		return nil
	}
	return c.client.Publisher(resource)
}

// DomainPublisher returns the publisher for the domain event topic.
func (c *Client) DomainPublisher() *pubsub.Publisher {
	return c.Publisher(c.cfg.DomainTopic)
}

// Ping re-checks that the configured subscriptions are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errNotInitialized
	}
	return c.verifySubscriptions(ctx)
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName project-qualifies a bare ID; full resource names pass through.
func (c *Client) resourceName(kind, name string) string {
	name = strings.TrimSpace(name)
	if c == nil || name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	project := strings.TrimSpace(c.projectID)
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + kind + "/" + name
}
