package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/storeauth/internal/verification"
)

type captureMailer struct{ to, subject, body string }

func (c *captureMailer) SendEmail(_ context.Context, to, subject, body string) error {
	c.to, c.subject, c.body = to, subject, body
	return nil
}

type captureSMS struct{ to, body string }

func (c *captureSMS) SendSMS(_ context.Context, to, body string) error {
	c.to, c.body = to, body
	return nil
}

func TestRouterPicksChannel(t *testing.T) {
	mail, sms := &captureMailer{}, &captureSMS{}
	r := &Router{Mail: mail, SMS: sms, Product: "Acme"}
	ctx := context.Background()

	require.NoError(t, r.SendCode(ctx, verification.KindPasswordReset, "a@example.com", "123456"))
	assert.Equal(t, "a@example.com", mail.to)
	assert.Equal(t, "Acme: reset your password", mail.subject)
	assert.Contains(t, mail.body, "123456")

	require.NoError(t, r.SendCode(ctx, verification.KindPhoneChange, "+15550100", "654321"))
	assert.Equal(t, "+15550100", sms.to)
	assert.Contains(t, sms.body, "654321")
	assert.Equal(t, "Acme: reset your password", mail.subject, "phone codes never go out by email")
}

func TestRouterWithoutChannel(t *testing.T) {
	r := &Router{}
	assert.Error(t, r.SendCode(context.Background(), verification.KindSignupEmail, "a@example.com", "1"))
	assert.Error(t, r.SendCode(context.Background(), verification.KindPhoneChange, "+1", "1"))
}

func TestSMTPMailer(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Addr: "smtp.example.com:587", From: "noreply@example.com", Username: "u", Password: "p"})
	require.NoError(t, err)

	var gotTo []string
	var gotMsg string
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.example.com:587", addr)
		assert.NotNil(t, a)
		gotTo, gotMsg = to, string(msg)
		return nil
	}
	require.NoError(t, m.SendEmail(context.Background(), "a@example.com", "Hello", "line1\nline2"))
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Hello\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "line1\r\nline2"))

	assert.Error(t, m.SendEmail(context.Background(), "a@example.com\r\nBcc: x@example.com", "Hello", "b"))

	_, err = NewSMTPMailer(SMTPConfig{Addr: "nohost", From: "x@example.com"})
	assert.Error(t, err)
}

func TestWebhookSMS(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSMS(srv.URL, "secret")
	require.NoError(t, s.SendSMS(context.Background(), "+15550100", "hi"))
	assert.Equal(t, "+15550100", got["to"])
	assert.Equal(t, "hi", got["body"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	assert.Error(t, NewWebhookSMS(failing.URL, "").SendSMS(context.Background(), "+1", "x"))
}
