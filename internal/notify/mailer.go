package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/rs/zerolog"
)

const mailCharset = "UTF-8"

// SESAPI is the subset of the SES client the mailer consumes.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Email is one outbound message. The HTML body is derived from the plain
// message.
type Email struct {
	Sender    string
	Recipient string
	Subject   string
	Message   string
}

// Mailer sends single emails through SES with HTML and text bodies.
type Mailer struct {
	client SESAPI
	log    zerolog.Logger
}

// NewMailer creates a new SES mailer
func NewMailer(client SESAPI, log zerolog.Logger) *Mailer {
	return &Mailer{
		client: client,
		log:    log.With().Str("service", "ses").Logger(),
	}
}

// Send delivers the email and returns the SES message id.
func (m *Mailer) Send(ctx context.Context, email Email) (string, error) {
	bodyHTML := fmt.Sprintf(`<html>
<head></head>
<body>
<h3>%s</h3>
<p>%s</p>
</body>
</html>`, email.Subject, email.Message)

	out, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(email.Sender),
		Destination: &types.Destination{
			ToAddresses: []string{email.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Charset: aws.String(mailCharset),
				Data:    aws.String(email.Subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Charset: aws.String(mailCharset),
					Data:    aws.String(bodyHTML),
				},
				Text: &types.Content{
					Charset: aws.String(mailCharset),
					Data:    aws.String(email.Message),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email to %s: %w", email.Recipient, err)
	}

	m.log.Info().Str("recipient", email.Recipient).Str("subject", email.Subject).Msg("Email sent")
	return aws.ToString(out.MessageId), nil
}
