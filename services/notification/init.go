package notification

import (
	"github.com/aws/aws-sdk-go/service/sesv2"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/awsutil"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
)

// NewRelayFromConfig builds the relay selected by NOTIFY_BACKEND.
func NewRelayFromConfig(cfg *config.Config) (interfaces.NotificationRelay, error) {
	switch cfg.NotificationConfig.Backend {
	case enum.NotifySES:
		sess, err := awsutil.NewSession(cfg.AWSConfig)
		if err != nil {
			return nil, imagestack_errors.Config("notification.NewRelayFromConfig", err)
		}
		return NewMailRelay(NewSESTransport(sesv2.New(sess))), nil
	case enum.NotifySMTP:
		return NewMailRelay(NewSMTPTransport(cfg.SMTPConfig)), nil
	case enum.NotifyNone:
		return NewNoopRelay(), nil
	}
	return nil, imagestack_errors.Config("notification.NewRelayFromConfig", errors.Errorf("unknown notify backend %q", cfg.NotificationConfig.Backend))
}
