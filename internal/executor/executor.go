// Package executor performs one execution attempt for a due task: a single
// HTTP check for keepalive tasks, or one dispatch per configured channel for
// notification tasks. There is no internal retry; a failed task is simply
// re-evaluated at the next tick.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/zengdw/app-keep-alive-sub001/internal/channel"
	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

const (
	defaultKeepaliveTimeout = 30 * time.Second
	channelSendTimeout      = 10 * time.Second
)

// Executor issues the outbound calls for due tasks. Notification sends share
// a pacing limiter so a large batch cannot flood the channel providers.
type Executor struct {
	client   *http.Client
	channels channel.Registry
	pace     *rate.Limiter
}

func New(client *http.Client, channels channel.Registry, sendRatePerSec int) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if sendRatePerSec <= 0 {
		sendRatePerSec = 3
	}
	return &Executor{
		client:   client,
		channels: channels,
		pace:     rate.NewLimiter(rate.Limit(sendRatePerSec), sendRatePerSec),
	}
}

// Execute runs the attempt appropriate for the task's type.
func (e *Executor) Execute(ctx context.Context, task domain.Task) domain.ExecutionResult {
	switch task.Type {
	case domain.TypeKeepalive:
		return e.ExecuteKeepalive(ctx, task)
	case domain.TypeNotification:
		return e.ExecuteNotification(ctx, task)
	default:
		return domain.ExecutionResult{Error: fmt.Sprintf("unsupported task type: %s", task.Type)}
	}
}

// ExecuteKeepalive issues exactly one HTTP call bounded by the task's
// configured timeout. Responses in the 2xx-3xx range are success; everything
// else is failure with a distinguishing error string.
func (e *Executor) ExecuteKeepalive(ctx context.Context, task domain.Task) domain.ExecutionResult {
	cfg := task.Keepalive
	if cfg == nil {
		return domain.ExecutionResult{Error: "keepalive config missing"}
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultKeepaliveTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return domain.ExecutionResult{Error: "network_error:" + bounded(err.Error())}
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	elapsed := elapsedMs(start)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return domain.ExecutionResult{ElapsedMs: elapsed, Error: "timeout"}
		}
		return domain.ExecutionResult{ElapsedMs: elapsed, Error: "network_error:" + bounded(rootCause(err))}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	details, _ := json.Marshal(map[string]any{
		"url":         cfg.URL,
		"method":      method,
		"status_code": resp.StatusCode,
	})
	result := domain.ExecutionResult{
		ElapsedMs:  elapsed,
		StatusCode: resp.StatusCode,
		Details:    details,
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.Success = true
		return result
	}
	result.Error = fmt.Sprintf("http_status:%d", resp.StatusCode)
	return result
}

type channelOutcome struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ExecuteNotification dispatches the task's title and message through every
// configured channel, one send per channel. Any channel failure makes the
// execution a failure; per-channel outcomes are preserved in the details.
func (e *Executor) ExecuteNotification(ctx context.Context, task domain.Task) domain.ExecutionResult {
	cfg := task.Notification
	if cfg == nil {
		return domain.ExecutionResult{Delivery: domain.DeliveryFailed, Error: "notification config missing"}
	}
	if len(cfg.Channels) == 0 {
		return domain.ExecutionResult{Delivery: domain.DeliveryFailed, Error: "no channels configured"}
	}
	title := cfg.Title
	if title == "" {
		title = task.Name
	}

	start := time.Now()
	outcomes := make([]channelOutcome, 0, len(cfg.Channels))
	sent := 0
	for _, ch := range cfg.Channels {
		err := e.sendOne(ctx, ch, title, cfg.Message)
		oc := channelOutcome{Type: ch.Type, OK: err == nil}
		if err != nil {
			oc.Error = bounded(err.Error())
		} else {
			sent++
		}
		outcomes = append(outcomes, oc)
	}

	details, _ := json.Marshal(map[string]any{"channels": outcomes})
	result := domain.ExecutionResult{
		ElapsedMs: elapsedMs(start),
		Details:   details,
	}
	switch {
	case sent == len(cfg.Channels):
		result.Success = true
		result.Delivery = domain.DeliveryDelivered
	case sent > 0:
		result.Delivery = domain.DeliveryPartial
		result.Error = bounded(deliveryError(outcomes))
	default:
		result.Delivery = domain.DeliveryFailed
		result.Error = bounded(deliveryError(outcomes))
	}
	return result
}

func (e *Executor) sendOne(parent context.Context, ch domain.ChannelConfig, title, message string) error {
	// Pace before each outbound send, honoring cancellation.
	if err := e.pace.Wait(parent); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, channelSendTimeout)
	defer cancel()
	return e.channels.Send(ctx, ch, title, message)
}

func deliveryError(outcomes []channelOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, oc := range outcomes {
		if !oc.OK {
			parts = append(parts, fmt.Sprintf("%s: %s", oc.Type, oc.Error))
		}
	}
	return "channel_delivery:" + strings.Join(parts, "; ")
}

// rootCause strips the url.Error envelope so the logged cause is the
// underlying dial or protocol failure, not the full request line.
func rootCause(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err.Error()
	}
	return err.Error()
}

func elapsedMs(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms > domain.MaxElapsedMs {
		ms = domain.MaxElapsedMs
	}
	return ms
}

func bounded(s string) string {
	if len(s) <= domain.MaxErrorLen {
		return s
	}
	return s[:domain.MaxErrorLen]
}
