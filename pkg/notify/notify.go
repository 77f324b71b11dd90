// Package notify delivers best-effort email notifications. Delivery failures are
// logged by Dispatcher and never reach the caller.
package notify

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names
const (
	TemplateMissionStarted     = "mission_started"
	TemplateMissionCompleted   = "mission_completed"
	TemplateDriverApproved     = "driver_approved"
	TemplateTransportScheduled = "transport_scheduled"
)

var subjects = map[string]string{
	TemplateMissionStarted:     "Your child's transport has started",
	TemplateMissionCompleted:   "Your child has arrived",
	TemplateDriverApproved:     "Your driver account has been approved",
	TemplateTransportScheduled: "New transport scheduled",
}

// Message is one email to one recipient.
type Message struct {
	To       string
	ToName   string
	Template string
	Data     map[string]interface{}
}

// Notifier sends a rendered message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

var (
	parseOnce sync.Once
	templates *template.Template
	parseErr  error
)

// Render returns the subject and HTML body for msg.
func Render(msg Message) (string, string, error) {
	parseOnce.Do(func() {
		templates, parseErr = template.ParseFS(templateFS, "templates/*.html")
	})
	if parseErr != nil {
		return "", "", errors.Wrap(parseErr, "failed to parse email templates")
	}

	subject, ok := subjects[msg.Template]
	if !ok {
		return "", "", errors.Errorf("unknown email template %q", msg.Template)
	}

	data := map[string]interface{}{"Name": msg.ToName}
	for k, v := range msg.Data {
		data[k] = v
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, msg.Template+".html", data); err != nil {
		return "", "", errors.Wrap(err, "failed to execute email template")
	}
	return subject, body.String(), nil
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	subject, _, err := Render(msg)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"to":       msg.To,
		"template": msg.Template,
		"subject":  subject,
	}).Info("Notification")
	return nil
}

// Dispatcher sends notifications in the background with a per-message timeout.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{notifier: notifier, timeout: timeout}
}

// Notify queues msg and returns immediately.
func (d *Dispatcher) Notify(msg Message) {
	if d == nil || d.notifier == nil || msg.To == "" {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Send(ctx, msg); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"to":       msg.To,
				"template": msg.Template,
			}).Warn("Failed to send notification")
		}
	}()
}

// Wait blocks until queued notifications have been attempted.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
