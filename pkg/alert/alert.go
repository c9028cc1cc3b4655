package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/types"
)

// Severity orders alerts for the receiving operator.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	SourceCircuitBreaker = "circuit_breaker"
	SourceCommit         = "commit"
)

// Event is one incident worth paging someone about.
type Event struct {
	Severity Severity
	// Source names the component raising the event.
	Source string
	// Name identifies the instance within the source, such as the breaker
	// name.
	Name      string
	GroupID   string
	EpisodeID string
	// State is the breaker state after the change.
	State string
	Kind  types.ErrorKind
	Err   error
	At    time.Time
}

// Subject is a one-line summary suitable for a mail subject.
func (e Event) Subject() string {
	sev := strings.ToUpper(string(e.Severity))
	if sev == "" {
		sev = strings.ToUpper(string(SeverityWarning))
	}
	switch e.Source {
	case SourceCircuitBreaker:
		return fmt.Sprintf("[%s] circuit breaker %s is %s", sev, e.Name, e.State)
	case SourceCommit:
		return fmt.Sprintf("[%s] commit failed for group %s", sev, e.GroupID)
	}
	return fmt.Sprintf("[%s] %s %s", sev, e.Source, e.Name)
}

// Fields returns the non-empty attributes of the event.
func (e Event) Fields() map[string]string {
	out := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("source", e.Source)
	set("name", e.Name)
	set("group_id", e.GroupID)
	set("episode_id", e.EpisodeID)
	set("state", e.State)
	set("kind", string(e.Kind))
	if e.Err != nil {
		out["error"] = e.Err.Error()
	}
	if !e.At.IsZero() {
		out["at"] = e.At.UTC().Format(time.RFC3339)
	}
	return out
}

// Body renders the fields one per line in key order.
func (e Event) Body() string {
	fields := e.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, fields[k])
	}
	return b.String()
}

// Alerter delivers incident events.
type Alerter interface {
	Alert(ctx context.Context, ev Event) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailAlerter mails events over SMTP. Repeats of the same subject within the
// cooldown are dropped.
type EmailAlerter struct {
	cfg      config.AlertConfig
	cooldown time.Duration
	send     sendFunc
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewEmailAlerter(cfg config.AlertConfig) *EmailAlerter {
	return &EmailAlerter{
		cfg:      cfg,
		cooldown: time.Duration(cfg.CooldownSeconds) * time.Second,
		send:     smtp.SendMail,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

func (a *EmailAlerter) Alert(ctx context.Context, ev Event) error {
	if !a.cfg.Enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = a.now()
	}
	subject := ev.Subject()
	if a.suppressed(subject, ev.At) {
		return nil
	}

	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s",
		strings.Join(a.cfg.To, ","), subject, ev.Body()))
	addr := fmt.Sprintf("%s:%d", a.cfg.SMTPHost, a.cfg.SMTPPort)
	auth := smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.SMTPHost)
	if err := a.send(addr, auth, a.cfg.From, a.cfg.To, msg); err != nil {
		a.forget(subject)
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

func (a *EmailAlerter) suppressed(subject string, at time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.last[subject]; ok && a.cooldown > 0 && at.Sub(prev) < a.cooldown {
		return true
	}
	a.last[subject] = at
	return false
}

func (a *EmailAlerter) forget(subject string) {
	a.mu.Lock()
	delete(a.last, subject)
	a.mu.Unlock()
}

// NoOpAlerter drops every event.
type NoOpAlerter struct{}

func (NoOpAlerter) Alert(ctx context.Context, ev Event) error {
	return nil
}
