// Package channel delivers notification messages to their configured
// destinations. Senders are registered per channel type and looked up by the
// executor at dispatch time.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

var ErrUnknownChannel = errors.New("unknown channel type")

// Sender delivers one message to one destination.
type Sender interface {
	Send(ctx context.Context, cfg domain.ChannelConfig, title, message string) error
}

// Registry maps channel types to their senders.
type Registry map[string]Sender

// Send routes a message to the sender registered for cfg.Type.
func (r Registry) Send(ctx context.Context, cfg domain.ChannelConfig, title, message string) error {
	s, ok := r[cfg.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, cfg.Type)
	}
	return s.Send(ctx, cfg, title, message)
}
