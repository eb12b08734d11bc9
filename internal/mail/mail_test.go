package mail

import (
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/scout/internal/metrics"
)

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestMessage_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"valid", Message{To: "a@b.com", Subject: "Report"}, false},
		{"named address", Message{To: "Ada <ada@example.com>", Subject: "Report"}, false},
		{"empty recipient", Message{To: " ", Subject: "Report"}, true},
		{"not an address", Message{To: "nobody", Subject: "Report"}, true},
		{"subject injection", Message{To: "a@b.com", Subject: "Hi\r\nBcc: x@y.z"}, true},
		{"recipient injection", Message{To: "a@b.com\nBcc: x@y.z"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.msg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	got := Preview(Message{To: "a@b.com", Subject: "Report", Body: "Findings..."})
	want := "\nEmail Preview:\nTo: a@b.com\nSubject: Report\nBody Length: 11 characters\n\nFindings......\n"
	assert.Equal(t, want, got)
}

func TestPreview_TruncatesBody(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("é", 250)
	got := Preview(Message{To: "a@b.com", Body: body})
	assert.Contains(t, got, "Body Length: 250 characters")
	assert.Contains(t, got, strings.Repeat("é", 200)+"...\n")
	assert.NotContains(t, got, strings.Repeat("é", 201))
}

func TestPreviewSender(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sender := NewPreviewSender(quiet(), m)

	d, err := sender.Send(context.Background(), Message{To: "a@b.com", Subject: "Report", Body: "x"})
	require.NoError(t, err)
	assert.False(t, d.Sent)
	assert.Contains(t, d.Preview, "To: a@b.com")

	families, err := reg.Gather()
	require.NoError(t, err)
	var count float64
	for _, f := range families {
		if f.GetName() == "scout_email_previews_total" {
			count = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, count)
}

func TestPreviewSender_RejectsInvalid(t *testing.T) {
	t.Parallel()

	_, err := NewPreviewSender(quiet(), nil).Send(context.Background(), Message{To: "bad"})
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestNewSMTP_RequiresHostAndFrom(t *testing.T) {
	t.Parallel()

	_, err := NewSMTP(SMTPConfig{Host: "smtp.example.com"}, quiet())
	require.Error(t, err)
	assert.False(t, SMTPConfig{From: "x@y.z"}.Configured())
	assert.True(t, SMTPConfig{Host: "h", From: "x@y.z"}.Configured())
}

func TestSMTP_Send(t *testing.T) {
	t.Parallel()

	s, err := NewSMTP(SMTPConfig{
		Host:     "smtp.example.com",
		Username: "scout",
		Password: "secret",
		From:     "scout@example.com",
	}, quiet())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(msg)
		return nil
	}

	d, err := s.Send(context.Background(), Message{To: "a@b.com", Subject: "Report", Body: "line1\nline2"})
	require.NoError(t, err)
	assert.True(t, d.Sent)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "scout@example.com", gotFrom)
	assert.Equal(t, []string{"a@b.com"}, gotTo)
	assert.Contains(t, gotMsg, "To: a@b.com\r\n")
	assert.Contains(t, gotMsg, "Subject: Report\r\n")
	assert.Contains(t, gotMsg, "Date: Sun, 01 Mar 2026 09:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nline1\r\nline2"))
}

func TestSMTP_SendFailure(t *testing.T) {
	t.Parallel()

	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 2525, From: "scout@example.com"}, quiet())
	require.NoError(t, err)
	s.send = func(addr string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		assert.Equal(t, "smtp.example.com:2525", addr)
		assert.Nil(t, a)
		return errors.New("550 mailbox unavailable")
	}

	_, err = s.Send(context.Background(), Message{To: "a@b.com", Subject: "Report"})
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "550")
}

func TestSMTP_CancelledContext(t *testing.T) {
	t.Parallel()

	s, err := NewSMTP(SMTPConfig{Host: "h", From: "scout@example.com"}, quiet())
	require.NoError(t, err)
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Error("send must not run")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Send(ctx, Message{To: "a@b.com"})
	require.ErrorIs(t, err, context.Canceled)
}
