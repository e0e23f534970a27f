package auth

import (
	"context"
	"encoding/json"

	"cvtriage/internal/redis"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const relayChannel = "cvtriage:auth:events"

// Relay mirrors session events between instances over redis pub/sub so a
// logout on one node reaches watchers on every node.
type Relay struct {
	client     *redis.Client
	auth       *Service
	instanceID string
	logger     *zap.Logger
	cancel     context.CancelFunc
	unsub      func()
}

// StartRelay subscribes to the shared channel and forwards local events.
func StartRelay(ctx context.Context, client *redis.Client, svc *Service, logger *zap.Logger) (*Relay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Relay{
		client:     client,
		auth:       svc,
		instanceID: uuid.NewString(),
		logger:     logger.With(zap.String("component", "auth_relay")),
		cancel:     cancel,
	}
	if err := client.Subscribe(ctx, relayChannel, r.receive); err != nil {
		cancel()
		return nil, err
	}
	r.unsub = svc.Subscribe(r.forward)
	return r, nil
}

// InstanceID identifies this process on the channel.
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Stop detaches the relay.
func (r *Relay) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
	r.cancel()
}

func (r *Relay) forward(evt Event) {
	// Remote events are already on the channel.
	if evt.Origin != "" {
		return
	}
	evt.Origin = r.instanceID
	payload, err := json.Marshal(evt)
	if err != nil {
		r.logger.Warn("encode session event failed", zap.Error(err))
		return
	}
	if err := r.client.Publish(context.Background(), relayChannel, payload); err != nil {
		r.logger.Warn("publish session event failed", zap.Error(err))
	}
}

func (r *Relay) receive(payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		r.logger.Warn("decode session event failed", zap.Error(err))
		return
	}
	if evt.Origin == "" || evt.Origin == r.instanceID {
		return
	}
	r.auth.deliver(evt)
}
