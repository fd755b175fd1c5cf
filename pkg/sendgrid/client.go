package sendgrid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	sendgridlib "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
)

var (
	errAPIKeyRequired = errors.New("sendgrid api key is required")
	errFromRequired   = errors.New("sendgrid from address is required")
)

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Client wraps the SendGrid transactional mail API.
type Client struct {
	send     sender
	from     *mail.Email
	defaults config.SendgridConfig
}

// NewClient builds the SendGrid client from configured credentials.
func NewClient(cfg config.SendgridConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	from := strings.TrimSpace(cfg.DefaultFrom)
	if from == "" {
		return nil, errFromRequired
	}

	return &Client{
		send:     sendgridlib.NewSendClient(apiKey),
		from:     mail.NewEmail(cfg.DefaultFromName, from),
		defaults: cfg,
	}, nil
}

// SendTemplateParams describes a templated transactional send.
type SendTemplateParams struct {
	TemplateID string
	ToEmail    string
	ToName     string
	Data       map[string]any
}

// SendTemplate delivers a dynamic-template email. Rendering happens at
// SendGrid; callers only supply the template id and data bag.
func (c *Client) SendTemplate(ctx context.Context, params SendTemplateParams) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "sendgrid client not configured")
	}
	if strings.TrimSpace(params.TemplateID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "template id is required")
	}
	toEmail := strings.TrimSpace(params.ToEmail)
	if toEmail == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email is required")
	}

	message := mail.NewV3Mail()
	message.SetFrom(c.from)
	message.SetTemplateID(params.TemplateID)

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail(params.ToName, toEmail))
	for key, value := range params.Data {
		personalization.SetDynamicTemplateData(key, value)
	}
	message.AddPersonalizations(personalization)

	resp, err := c.send.SendWithContext(ctx, message)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send template email")
	}
	if resp.StatusCode >= 300 {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body)), "sendgrid rejected send")
	}
	return nil
}

// EnrollmentTemplateID returns the configured confirmation template.
func (c *Client) EnrollmentTemplateID() string {
	if c == nil {
		return ""
	}
	return c.defaults.EnrollmentTemplate
}
