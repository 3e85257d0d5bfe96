// Package notify delivers short text events (logins, logouts, expired sessions) to webhook
// and email destinations. Delivery failures are reported to the caller, the service never retries.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
)

// Service sends events to all configured destinations
type Service struct {
	destinations []notify.Notifier
	urls         []string
	timeout      time.Duration
	hostName     string
	dedup        *deDup
}

// Params configures Service
type Params struct {
	WebhookURLs []string
	Emails      []string      // recipients, used only with SMTP.Host set
	SMTP        SMTPParams    // email delivery, optional
	Timeout     time.Duration // per event delivery timeout, defaults to 10s
	HostName    string        // added to every message, optional
	Headers     []string      // extra webhook headers in "Key:Value" form
	DedupWindow time.Duration // identical events within the window are sent once, 0 disables
}

// SMTPParams configures email delivery
type SMTPParams struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
	Subject  string
}

// New makes a notification service, returns nil if there are no destinations.
// All methods are safe to call on nil Service.
func New(p Params) *Service {
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}

	res := &Service{timeout: p.Timeout, hostName: p.HostName, dedup: newDeDup(p.DedupWindow)}
	for _, u := range p.WebhookURLs {
		if u = strings.TrimSpace(u); u != "" {
			res.urls = append(res.urls, u)
		}
	}
	if len(res.urls) > 0 {
		res.destinations = append(res.destinations, notify.NewWebhook(notify.WebhookParams{Timeout: p.Timeout, Headers: p.Headers}))
	}

	if p.SMTP.Host != "" {
		if dest := mailtoURL(p.Emails, p.SMTP); dest != "" {
			res.urls = append(res.urls, dest)
			res.destinations = append(res.destinations, notify.NewEmail(notify.SMTPParams{
				Host:     p.SMTP.Host,
				Port:     p.SMTP.Port,
				TLS:      p.SMTP.TLS,
				Username: p.SMTP.Username,
				Password: p.SMTP.Password,
				TimeOut:  p.Timeout,
			}))
		}
	}

	if len(res.urls) == 0 {
		return nil
	}
	return res
}

// Send delivers text to every destination, errors of individual destinations are joined
func (s *Service) Send(ctx context.Context, text string) error {
	if s == nil {
		return nil
	}
	if s.hostName != "" {
		text = fmt.Sprintf("[%s] %s", s.hostName, text)
	}

	var errs []error
	for _, dest := range s.urls {
		n := s.notifierFor(dest)
		if n == nil {
			errs = append(errs, fmt.Errorf("no notifier for destination %s", dest))
			continue
		}
		if err := n.Send(ctx, dest, text); err != nil {
			errs = append(errs, fmt.Errorf("failed to send to %s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// Event sends text in background with the service timeout, failures are only logged.
// Repeated identical events within the dedup window are dropped.
func (s *Service) Event(format string, args ...any) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(format, args...)
	if !s.dedup.Add(text) {
		log.Printf("[DEBUG] duplicate notification %q skipped", text)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.Send(ctx, text); err != nil {
			log.Printf("[WARN] failed to send notification %q: %v", text, err)
		}
	}()
}

func (s *Service) notifierFor(dest string) notify.Notifier {
	for _, n := range s.destinations {
		if strings.HasPrefix(dest, n.Schema()) {
			return n
		}
	}
	return nil
}

// String describes destinations for logging
func (s *Service) String() string {
	if s == nil {
		return "notifications disabled"
	}
	return fmt.Sprintf("notifications to %d destination(s)", len(s.urls))
}

// mailtoURL makes destination for go-pkgz/notify email, "mailto:a@example.com,b@example.com?from=...&subject=..."
func mailtoURL(emails []string, p SMTPParams) string {
	to := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = strings.TrimSpace(e); e != "" {
			to = append(to, e)
		}
	}
	if len(to) == 0 {
		return ""
	}
	q := url.Values{}
	if p.From != "" {
		q.Set("from", p.From)
	}
	subject := p.Subject
	if subject == "" {
		subject = "tradejournal event"
	}
	q.Set("subject", subject)
	return "mailto:" + strings.Join(to, ",") + "?" + q.Encode()
}
