package channel

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

func TestWebhookSendPostsJSON(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotAuth        string
		gotPayload     webhookPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := domain.ChannelConfig{
		Type:    domain.ChannelWebhook,
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer tok"},
	}
	err := NewWebhook(srv.Client()).Send(context.Background(), cfg, "Renewal due", "domain expires soon")

	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "Renewal due", gotPayload.Title)
	assert.Equal(t, "domain expires soon", gotPayload.Message)
	assert.False(t, gotPayload.SentAt.IsZero())
}

func TestWebhookSendRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := domain.ChannelConfig{Type: domain.ChannelWebhook, URL: srv.URL}
	err := NewWebhook(srv.Client()).Send(context.Background(), cfg, "t", "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	reg := Registry{domain.ChannelWebhook: NewWebhook(nil)}

	err := reg.Send(context.Background(), domain.ChannelConfig{Type: "pager"}, "t", "m")

	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestEmailSendHonorsContextDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Hold the accepted connection open without ever writing the SMTP
	// greeting, imitating a server that goes silent after the handshake.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	email := NewEmail(EmailOptions{Host: host, Port: port, From: "bot@example.com"})
	cfg := domain.ChannelConfig{Type: domain.ChannelEmail, To: "ops@example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = email.Send(ctx, cfg, "Renewal due", "domain expires soon")

	require.Error(t, err, "a silent peer must surface as a failed send")
	assert.Less(t, time.Since(start), 3*time.Second, "send must fail once the deadline passes, not hang")
}

func TestTextEmailFormat(t *testing.T) {
	msg := textEmail("bot@example.com", "ops@example.com", "Renewal", "line one\nline two")

	head, body, found := strings.Cut(msg, "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, head, "From: bot@example.com")
	assert.Contains(t, head, "To: ops@example.com")
	assert.Contains(t, head, "Subject: Renewal")
	assert.Contains(t, head, "Content-Type: text/plain; charset=UTF-8")
	assert.Equal(t, "line one\r\nline two\r\n", body, "bare newlines must become CRLF")
}
