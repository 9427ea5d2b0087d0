package heartbeat

import (
	"context"
	"time"

	"loranode-go/bus"
	"loranode-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicStats           = bus.T("node", "stats")
)

const defaultInterval = 10 * time.Second

// StatsSource is polled once per beat.
type StatsSource interface {
	Stats() types.NodeStats
}

type Service struct {
	src      StatsSource
	interval time.Duration
}

func New(src StatsSource) *Service {
	return &Service{src: src, interval: defaultInterval}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return
		case <-tick.C:
			conn.Publish(conn.NewMessage(topicStats, s.src.Stats(), true))
		case msg := <-cfgSub.Channel():
			if iv, ok := interval(msg.Payload); ok {
				s.interval = iv
				tick.Reset(iv)
				println("[heartbeat] interval set to", int(iv/time.Second), "s")
			}
		}
	}
}

// interval accepts the typed section or the generic map form.
func interval(p any) (time.Duration, bool) {
	var n int
	switch v := p.(type) {
	case types.HeartbeatConfig:
		n = v.IntervalS
	case map[string]any:
		switch x := v["interval"].(type) {
		case int:
			n = x
		case float64:
			n = int(x)
		}
	}
	if n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
