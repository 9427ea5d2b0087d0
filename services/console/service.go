package console

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"loranode-go/bus"
	"loranode-go/types"
	"loranode-go/x/conv"
)

// Port is the debug UART.
type Port interface {
	io.Writer
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// Service owns the port: one goroutine drains the writer ring and mirrors
// node/# bus messages, another reads input bytes.
type Service struct {
	w    *Writer
	port Port

	rxDrops atomic.Uint32
}

func NewService(w *Writer, port Port) *Service {
	return &Service{w: w, port: port}
}

// Start launches the drain loop and, when onByte is non-nil, the reader.
// onByte errors are counted and the byte discarded.
func (s *Service) Start(ctx context.Context, conn *bus.Connection, onByte func(byte) error) {
	var sub *bus.Subscription
	if conn != nil {
		sub = conn.Subscribe(bus.T("node", bus.Multi))
	}
	go s.drain(ctx, sub)
	if onByte != nil {
		go s.read(ctx, onByte)
	}
}

func (s *Service) drain(ctx context.Context, sub *bus.Subscription) {
	var msgs <-chan *bus.Message
	if sub != nil {
		msgs = sub.Channel()
		defer sub.Unsubscribe()
	}
	r := s.w.ring()
	buf := make([]byte, 64)
	var line []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.Readable():
			for {
				n := r.TryRead(buf)
				if n == 0 {
					break
				}
				_, _ = s.port.Write(buf[:n])
			}
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			line = formatMessage(line[:0], m)
			_, _ = s.port.Write(line)
		}
	}
}

func (s *Service) read(ctx context.Context, onByte func(byte) error) {
	buf := make([]byte, 16)
	for {
		// Bound the blocking wait to assist shutdown.
		rctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		n, _ := s.port.RecvSomeContext(rctx, buf)
		cancel()
		if ctx.Err() != nil {
			return
		}
		for i := 0; i < n; i++ {
			if onByte(buf[i]) != nil {
				s.rxDrops.Add(1)
			}
		}
	}
}

// RxDrops counts received bytes the callback refused.
func (s *Service) RxDrops() uint32 { return s.rxDrops.Load() }

func formatMessage(dst []byte, m *bus.Message) []byte {
	dst = append(dst, '[')
	dst = append(dst, m.Topic.String()...)
	dst = append(dst, "] "...)
	switch p := m.Payload.(type) {
	case types.NodeState:
		dst = append(dst, "state="...)
		dst = append(dst, p.State...)
		dst = append(dst, " joined="...)
		dst = appendBool(dst, p.Joined)
		dst = append(dst, " devaddr="...)
		dst = conv.AppendHex32(dst, p.DevAddr)
		dst = append(dst, " fcnt="...)
		dst = conv.AppendUint(dst, uint64(p.FCntUp))
	case types.NodeStats:
		dst = append(dst, "up="...)
		dst = conv.AppendUint(dst, uint64(p.UptimeMs))
		dst = append(dst, "ms drops="...)
		dst = conv.AppendUint(dst, uint64(p.DispatchDrops))
		dst = append(dst, " tx="...)
		dst = conv.AppendUint(dst, uint64(p.Uplinks))
		dst = append(dst, " rx="...)
		dst = conv.AppendUint(dst, uint64(p.Downlinks))
		dst = append(dst, " err="...)
		dst = conv.AppendUint(dst, uint64(p.MacErrors))
	case string:
		dst = append(dst, p...)
	case []byte:
		dst = conv.AppendHexBytes(dst, p)
	default:
		dst = append(dst, '?')
	}
	return append(dst, '\n')
}

func appendBool(dst []byte, b bool) []byte {
	if b {
		return append(dst, "true"...)
	}
	return append(dst, "false"...)
}
