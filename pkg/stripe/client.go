package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errMissingAPIKey  = errors.New("stripe api key is missing")
	errMissingSecret  = errors.New("stripe webhook signing secret is missing")
	errBadEnvironment = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)

	// keyPrefixes maps each environment onto the secret key prefixes it accepts.
	keyPrefixes = map[string][]string{
		testEnv: {"sk_test", "rk_test"},
		liveEnv: {"sk_live", "rk_live"},
	}
)

// Client carries the Stripe SDK handle together with the environment and
// webhook secret it was configured for.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
}

// NewClient configures the Stripe SDK once at startup. A live environment
// refuses test keys and vice versa, so a swapped secret fails the boot
// instead of the first checkout.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	signingSecret := strings.TrimSpace(cfg.SigningSecret)
	switch {
	case apiKey == "":
		return nil, errMissingAPIKey
	case signingSecret == "":
		return nil, errMissingSecret
	}
	if err := checkKeyPrefix(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)
	stripe.Key = apiKey

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client ready (%s environment)", env))
	}
	return &Client{
		api:           api,
		environment:   env,
		signingSecret: signingSecret,
	}, nil
}

// API hands out the SDK client. Nil receivers answer nil so callers can
// pass the result straight into their own guards.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment is the normalized environment the client was built for.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret is the webhook signing secret for this environment.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	if _, ok := keyPrefixes[env]; !ok {
		return "", errBadEnvironment
	}
	return env, nil
}

func checkKeyPrefix(env, key string) error {
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return errBadEnvironment
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe environment %q requires a %s secret key (%s)", env, env, strings.Join(prefixes, "/"))
}
