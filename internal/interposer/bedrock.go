package interposer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/csw-project/csw/internal/mcproto"
)

// WakePolicy controls when a Bedrock interposer turns incoming pings into a
// wake_requested event (spec §4.4).
type WakePolicy string

const (
	WakeAlways   WakePolicy = "always"
	WakeRepeated WakePolicy = "repeated"
	WakeNever    WakePolicy = "never"
)

const (
	defaultRepeatedThreshold = 2
	defaultRepeatedWindow    = 5 * time.Second
)

// BedrockConfig is the static information a Bedrock interposer answers
// unconnected pings with, plus its wake policy.
type BedrockConfig struct {
	ServerID          string
	ListenAddr        string
	MOTDLine1         string
	MOTDLine2         string
	Protocol          int
	VersionName       string
	MaxPlayers        int
	ServerGUID        int64
	PortIPv4          int
	PortIPv6          int
	WakePolicy        WakePolicy
	RepeatedThreshold int
	RepeatedWindow    time.Duration
	CoalesceWindow    time.Duration
}

// Bedrock is one Bedrock-edition interposer: a single UDP socket answering
// every valid unconnected ping with a pong, and deciding per its
// WakePolicy whether a given peer's ping traffic should wake the server.
type Bedrock struct {
	cfg    BedrockConfig
	logger *zap.Logger
	onWake func(serverID string)

	mu        sync.Mutex
	conn      *net.UDPConn
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	peerPings map[string][]time.Time
	lastWake  time.Time
}

// NewBedrock builds a Bedrock interposer.
func NewBedrock(cfg BedrockConfig, logger *zap.Logger, onWake func(serverID string)) *Bedrock {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0"
	}
	if cfg.WakePolicy == "" {
		cfg.WakePolicy = WakeRepeated
	}
	if cfg.RepeatedThreshold <= 0 {
		cfg.RepeatedThreshold = defaultRepeatedThreshold
	}
	if cfg.RepeatedWindow <= 0 {
		cfg.RepeatedWindow = defaultRepeatedWindow
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = defaultCoalesceWindow
	}
	return &Bedrock{
		cfg:       cfg,
		logger:    logger,
		onWake:    onWake,
		peerPings: make(map[string][]time.Time),
	}
}

// Acquire binds the UDP socket for port and starts the receive loop.
func (b *Bedrock) Acquire(port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	lc := net.ListenConfig{Control: controlReuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp", net.JoinHostPort(b.cfg.ListenAddr, fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("interposer: bedrock acquire port %d: %w", port, err)
	}
	conn := pc.(*net.UDPConn)

	ctx, cancel := context.WithCancel(context.Background())
	b.conn = conn
	b.cancel = cancel

	b.wg.Add(1)
	go b.recvLoop(ctx, conn)

	b.logger.Info("bedrock interposer acquired port", zap.String("server", b.cfg.ServerID), zap.Int("port", port))
	return nil
}

// Release closes the socket and waits for the receive loop to exit, with
// the same drain deadline discipline as the Java interposer.
func (b *Bedrock) Release() error {
	b.mu.Lock()
	conn := b.conn
	cancel := b.cancel
	b.conn = nil
	b.cancel = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	_ = conn.Close()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(defaultDrainDeadline):
		b.logger.Warn("bedrock interposer release: drain deadline exceeded", zap.String("server", b.cfg.ServerID))
	}
	return nil
}

func (b *Bedrock) recvLoop(ctx context.Context, conn *net.UDPConn) {
	defer b.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		b.handleDatagram(conn, addr, buf[:n])
	}
}

func (b *Bedrock) handleDatagram(conn *net.UDPConn, addr *net.UDPAddr, datagram []byte) {
	ping, err := mcproto.DecodeUnconnectedPing(datagram)
	if err != nil {
		return
	}

	pong := mcproto.EncodeUnconnectedPong(ping.Time, mcproto.ServerInfo{
		MOTDLine1:   b.cfg.MOTDLine1,
		Protocol:    b.cfg.Protocol,
		VersionName: b.cfg.VersionName,
		MaxPlayers:  b.cfg.MaxPlayers,
		ServerGUID:  b.cfg.ServerGUID,
		MOTDLine2:   b.cfg.MOTDLine2,
		PortIPv4:    b.cfg.PortIPv4,
		PortIPv6:    b.cfg.PortIPv6,
	})
	_, _ = conn.WriteToUDP(pong, addr)

	if b.shouldWake(addr.String(), time.Now()) {
		b.signalWake()
	}
}

// shouldWake applies WakePolicy to a single ping arrival from peer.
func (b *Bedrock) shouldWake(peer string, now time.Time) bool {
	switch b.cfg.WakePolicy {
	case WakeNever:
		return false
	case WakeAlways:
		return true
	default: // WakeRepeated
		b.mu.Lock()
		defer b.mu.Unlock()
		cutoff := now.Add(-b.cfg.RepeatedWindow)
		kept := b.peerPings[peer][:0:0]
		for _, ts := range b.peerPings[peer] {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		kept = append(kept, now)
		b.peerPings[peer] = kept
		return len(kept) >= b.cfg.RepeatedThreshold
	}
}

func (b *Bedrock) signalWake() {
	b.mu.Lock()
	now := time.Now()
	fire := now.Sub(b.lastWake) >= b.cfg.CoalesceWindow
	if fire {
		b.lastWake = now
	}
	b.mu.Unlock()

	if fire && b.onWake != nil {
		b.onWake(b.cfg.ServerID)
	}
}
