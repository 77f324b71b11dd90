package notify

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridNotifier sends mail through the SendGrid v3 API.
type SendGridNotifier struct {
	key  string
	host string
	from *sgmail.Email
}

func NewSendGridNotifier(key, fromEmail, fromName string) *SendGridNotifier {
	return &SendGridNotifier{
		key:  key,
		host: sendgridHost,
		from: sgmail.NewEmail(fromName, fromEmail),
	}
}

func (s *SendGridNotifier) prepare(msg Message) (*sgmail.SGMailV3, error) {
	subject, body, err := Render(msg)
	if err != nil {
		return nil, err
	}

	p := sgmail.NewPersonalization()
	p.Subject = subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/html", body))
	return m, nil
}

func (s *SendGridNotifier) Send(ctx context.Context, msg Message) error {
	m, err := s.prepare(msg)
	if err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := sendgrid.MakeRequest(req)
	if err != nil {
		return errors.Wrap(err, "sendgrid request failed")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sendgrid rejected message: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
