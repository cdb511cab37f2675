/*
Package notify sends emails through one of the supported providers: Amazon SES,
SendGrid or Mailgun. Credentials come from the environment.
*/
package notify

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/mailgun/mailgun-go/v4"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

type Provider string

const (
	ProviderSES      Provider = "ses"
	ProviderSendGrid Provider = "sendgrid"
	ProviderMailgun  Provider = "mailgun"
)

// Message is one email, sent to every recipient at once.
type Message struct {
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Text       string   `json:"text"`
	HTML       string   `json:"html"`
}

// SendFunc delivers a message. Providers and test fakes share this shape.
type SendFunc func(ctx context.Context, message Message) (e *xerr.Error)

// SenderFor returns the send function of provider.
func SenderFor(provider Provider) (send SendFunc, e *xerr.Error) {
	switch provider {
	case ProviderSES:
		return sendWithSES, nil
	case ProviderSendGrid:
		return sendWithSendGrid, nil
	case ProviderMailgun:
		return sendWithMailgun, nil
	}
	return nil, xerr.NewError(fmt.Errorf("unknown email provider"), "pick email provider", provider)
}

/*
SendMessage picks provider and sends message with it. When sendEmails is false
the message is only logged, which is how dry runs work.
*/
func SendMessage(ctx context.Context, provider Provider, sendEmails bool, message Message) (e *xerr.Error) {
	if len(message.Recipients) == 0 {
		return xerr.NewError(fmt.Errorf("no recipients"), "send email", message.Subject)
	}
	send, e := SenderFor(provider)
	if e != nil {
		return e
	}

	tl.Log(
		tl.Info, palette.Blue, "%s '%s' to %s via %s",
		"Sending email", message.Subject, strings.Join(message.Recipients, ", "), provider,
	)
	if !sendEmails {
		tl.Log(tl.Notice, palette.Purple, "%s, not sending '%s'", "Dry run", message.Subject)
		tl.Log(tl.Verbose, palette.BlueDim, "Full Email:\n```\n%s\n```", message.Text)
		return nil
	}

	e = send(ctx, message)
	if e != nil {
		return e
	}
	tl.Log(tl.Info1, palette.Green, "%s '%s' via %s", "Sent email", message.Subject, provider)
	return nil
}

// AWS credentials and region come from the default chain (AWS_* env vars, shared config).
func sendWithSES(ctx context.Context, message Message) (e *xerr.Error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return xerr.NewError(err, "load AWS config", nil)
	}
	client := sesv2.NewFromConfig(cfg)

	body := &sestypes.Body{}
	if message.Text != "" {
		body.Text = &sestypes.Content{Data: aws.String(message.Text), Charset: aws.String("UTF-8")}
	}
	if message.HTML != "" {
		body.Html = &sestypes.Content{Data: aws.String(message.HTML), Charset: aws.String("UTF-8")}
	}

	output, err := client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(message.Sender),
		Destination:      &sestypes.Destination{ToAddresses: message.Recipients},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(message.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	})
	if err != nil {
		return xerr.NewError(err, "send email with SES", message.Subject)
	}
	tl.Log(tl.Debug, palette.CyanDim, "SES message id '%s'", aws.ToString(output.MessageId))
	return nil
}

func sendWithSendGrid(ctx context.Context, message Message) (e *xerr.Error) {
	email := mail.NewV3Mail()
	email.SetFrom(mail.NewEmail("", message.Sender))
	email.Subject = message.Subject

	personalization := mail.NewPersonalization()
	for _, recipient := range message.Recipients {
		personalization.AddTos(mail.NewEmail("", recipient))
	}
	email.AddPersonalizations(personalization)
	if message.Text != "" {
		email.AddContent(mail.NewContent("text/plain", message.Text))
	}
	if message.HTML != "" {
		email.AddContent(mail.NewContent("text/html", message.HTML))
	}

	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.SendWithContext(ctx, email)
	if err != nil {
		return xerr.NewError(err, "send email with SendGrid", message.Subject)
	}
	if response.StatusCode >= 300 {
		return xerr.NewError(fmt.Errorf("status %d: %s", response.StatusCode, response.Body), "send email with SendGrid", message.Subject)
	}
	return nil
}

func sendWithMailgun(ctx context.Context, message Message) (e *xerr.Error) {
	mg := mailgun.NewMailgun(os.Getenv("MAILGUN_DOMAIN"), os.Getenv("MAILGUN_API_KEY"))

	email := mg.NewMessage(message.Sender, message.Subject, message.Text, message.Recipients...)
	if message.HTML != "" {
		email.SetHtml(message.HTML)
	}

	response, id, err := mg.Send(ctx, email)
	if err != nil {
		return xerr.NewError(err, "send email with Mailgun", message.Subject)
	}
	tl.Log(tl.Debug, palette.CyanDim, "Mailgun response '%s', id '%s'", response, id)
	return nil
}
