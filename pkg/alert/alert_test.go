package alert

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func capture(a *EmailAlerter, fail error) *[]sentMail {
	var sent []sentMail
	a.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if fail != nil {
			return fail
		}
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return &sent
}

func enabledConfig() config.AlertConfig {
	return config.AlertConfig{
		Enabled:         true,
		SMTPHost:        "mail.example.com",
		SMTPPort:        587,
		From:            "chronograph@example.com",
		To:              []string{"ops@example.com", "oncall@example.com"},
		CooldownSeconds: 60,
	}
}

var commitFailure = Event{
	Severity:  SeverityCritical,
	Source:    SourceCommit,
	Name:      "commit",
	GroupID:   "acme",
	EpisodeID: "ep-1",
	Kind:      types.KindFatal,
	Err:       errors.New("database is locked"),
	At:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
}

func TestEventRendering(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		subject string
		body    []string
	}{
		{
			name:    "commit",
			ev:      commitFailure,
			subject: "[CRITICAL] commit failed for group acme",
			body: []string{
				"at: 2024-06-01T12:00:00Z", "episode_id: ep-1", "error: database is locked",
				"group_id: acme", "kind: fatal", "name: commit", "source: commit",
			},
		},
		{
			name:    "breaker",
			ev:      Event{Severity: SeverityCritical, Source: SourceCircuitBreaker, Name: "nlp", State: "open"},
			subject: "[CRITICAL] circuit breaker nlp is open",
			body:    []string{"name: nlp", "source: circuit_breaker", "state: open"},
		},
		{
			name:    "other source without severity",
			ev:      Event{Source: "embedder", Name: "cache"},
			subject: "[WARNING] embedder cache",
			body:    []string{"name: cache", "source: embedder"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.subject, tt.ev.Subject())
			want := ""
			for _, line := range tt.body {
				want += line + "\r\n"
			}
			assert.Equal(t, want, tt.ev.Body())
		})
	}
}

func TestEmailAlerterSendsEvent(t *testing.T) {
	a := NewEmailAlerter(enabledConfig())
	sent := capture(a, nil)

	require.NoError(t, a.Alert(context.Background(), commitFailure))
	require.Len(t, *sent, 1)
	m := (*sent)[0]
	assert.Equal(t, "mail.example.com:587", m.addr)
	assert.Equal(t, "chronograph@example.com", m.from)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, m.to)
	assert.Contains(t, m.msg, "To: ops@example.com,oncall@example.com\r\n")
	assert.Contains(t, m.msg, "Subject: [CRITICAL] commit failed for group acme\r\n")
	assert.Contains(t, m.msg, "episode_id: ep-1\r\n")
}

func TestEmailAlerterCooldown(t *testing.T) {
	a := NewEmailAlerter(enabledConfig())
	sent := capture(a, nil)
	ctx := context.Background()

	ev := commitFailure
	require.NoError(t, a.Alert(ctx, ev))
	ev.At = ev.At.Add(30 * time.Second)
	require.NoError(t, a.Alert(ctx, ev))
	assert.Len(t, *sent, 1, "repeat inside the cooldown is dropped")

	other := ev
	other.GroupID = "globex"
	require.NoError(t, a.Alert(ctx, other))
	assert.Len(t, *sent, 2, "another group is a different alert")

	ev.At = ev.At.Add(time.Minute)
	require.NoError(t, a.Alert(ctx, ev))
	assert.Len(t, *sent, 3)
}

func TestEmailAlerterFailures(t *testing.T) {
	t.Run("disabled is silent", func(t *testing.T) {
		a := NewEmailAlerter(config.AlertConfig{Enabled: false, SMTPHost: "unreachable.invalid", SMTPPort: 25})
		sent := capture(a, nil)
		assert.NoError(t, a.Alert(context.Background(), commitFailure))
		assert.Empty(t, *sent)
	})

	t.Run("send failure is reported and not throttled", func(t *testing.T) {
		a := NewEmailAlerter(enabledConfig())
		capture(a, errors.New("connection refused"))
		err := a.Alert(context.Background(), commitFailure)
		assert.ErrorContains(t, err, "failed to send alert email")

		sent := capture(a, nil)
		require.NoError(t, a.Alert(context.Background(), commitFailure))
		assert.Len(t, *sent, 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		a := NewEmailAlerter(enabledConfig())
		sent := capture(a, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, a.Alert(ctx, commitFailure), context.Canceled)
		assert.Empty(t, *sent)
	})
}

func TestNoOpAlerter(t *testing.T) {
	var a Alerter = NoOpAlerter{}
	assert.NoError(t, a.Alert(context.Background(), commitFailure))
}
