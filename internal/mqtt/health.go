// internal/mqtt/health.go

package mqtt

import (
	"context"
	"fmt"
	"time"
)

type HealthStatus struct {
	Connected      bool      `json:"connected"`
	LastConnected  time.Time `json:"last_connected,omitempty"`
	LastDisconnect time.Time `json:"last_disconnect,omitempty"`
	Subscriptions  int       `json:"subscriptions"`
}

// Health reports connection state. A nil client counts as disabled and
// reports an error.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	if c == nil {
		return nil, fmt.Errorf("mqtt disabled")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return &HealthStatus{
		Connected:      c.connected && c.client.IsConnected(),
		LastConnected:  c.lastConnected,
		LastDisconnect: c.lastDisconnect,
		Subscriptions:  len(c.handlers),
	}, nil
}
