// Package interposer implements the dual-stack "sleeping server" socket
// front: a Java TCP listener and a Bedrock UDP listener that stand in for
// a real Minecraft server while it is stopped, answering status pings and
// turning a login/connect attempt into a wake_requested event.
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

const defaultDrainDeadline = 2 * time.Second
const defaultCoalesceWindow = 2 * time.Second

// JavaConfig is the static information a Java interposer answers status
// requests with.
type JavaConfig struct {
	ServerID          string
	ListenAddr        string // host part only; defaults to "0.0.0.0"
	VersionName       string
	ProtocolVersion   int
	MaxPlayers        int
	MOTD              string
	Favicon           string // data URI, empty to omit
	DisconnectMessage string
	CoalesceWindow    time.Duration
	DrainDeadline     time.Duration
}

// Java is one Java-edition interposer. acquire(port)/release() are its
// lifecycle operations (spec §4.3); it is not safe to call Acquire
// concurrently with itself, but Release may be called from any goroutine.
type Java struct {
	cfg    JavaConfig
	logger *zap.Logger
	onWake func(serverID string)

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastWake time.Time
}

// NewJava builds a Java interposer. onWake is invoked at most once per
// CoalesceWindow, from a connection-handling goroutine.
func NewJava(cfg JavaConfig, logger *zap.Logger, onWake func(serverID string)) *Java {
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = defaultCoalesceWindow
	}
	if cfg.DrainDeadline <= 0 {
		cfg.DrainDeadline = defaultDrainDeadline
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0"
	}
	return &Java{cfg: cfg, logger: logger, onWake: onWake}
}

// Acquire binds and starts accepting connections on port. It must not be
// called again before a matching Release.
func (j *Java) Acquire(port int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	lc := net.ListenConfig{Control: controlReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(j.cfg.ListenAddr, fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("interposer: java acquire port %d: %w", port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.listener = ln
	j.cancel = cancel

	j.wg.Add(1)
	go j.acceptLoop(ctx, ln)

	j.logger.Info("java interposer acquired port", zap.String("server", j.cfg.ServerID), zap.Int("port", port))
	return nil
}

// Release stops accepting new connections, closes the listener, and waits
// up to DrainDeadline for in-flight handlers to finish.
func (j *Java) Release() error {
	j.mu.Lock()
	ln := j.listener
	cancel := j.cancel
	j.listener = nil
	j.cancel = nil
	j.mu.Unlock()

	if ln == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	_ = ln.Close()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(j.cfg.DrainDeadline):
		j.logger.Warn("java interposer release: drain deadline exceeded", zap.String("server", j.cfg.ServerID))
	}
	return nil
}

func (j *Java) acceptLoop(ctx context.Context, ln net.Listener) {
	defer j.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			j.logger.Debug("java interposer accept error", zap.Error(err))
			return
		}
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			j.handleConn(conn)
		}()
	}
}

func (j *Java) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	hsPayload, err := mcproto.ReadPacket(conn)
	if err != nil {
		return
	}
	hs, err := mcproto.DecodeHandshake(hsPayload)
	if err != nil {
		return
	}

	switch hs.NextState {
	case mcproto.NextStateStatus:
		j.handleStatus(conn)
	case mcproto.NextStateLogin:
		j.handleLogin(conn)
	}
}

func (j *Java) handleStatus(conn net.Conn) {
	reqPayload, err := mcproto.ReadPacket(conn)
	if err != nil || !mcproto.IsStatusRequest(reqPayload) {
		return
	}

	resp := mcproto.NewStatusResponse(j.cfg.VersionName, j.cfg.ProtocolVersion, j.cfg.MaxPlayers, j.cfg.MOTD, j.cfg.Favicon)
	packet, err := mcproto.EncodeStatusResponse(resp)
	if err != nil {
		return
	}
	if err := mcproto.WritePacket(conn, packet); err != nil {
		return
	}

	// Optional ping/pong: best-effort, connection closes either way.
	pingPayload, err := mcproto.ReadPacket(conn)
	if err != nil {
		return
	}
	echo, err := mcproto.DecodePing(pingPayload)
	if err != nil {
		return
	}
	_ = mcproto.WritePacket(conn, mcproto.EncodePong(echo))
}

func (j *Java) handleLogin(conn net.Conn) {
	payload, err := mcproto.ReadPacket(conn)
	if err != nil {
		return
	}
	if _, err := mcproto.DecodeLoginStart(payload); err != nil {
		return
	}

	packet, err := mcproto.EncodeLoginDisconnect(j.cfg.DisconnectMessage)
	if err == nil {
		_ = mcproto.WritePacket(conn, packet)
	}

	j.signalWake()
}

// signalWake invokes onWake at most once per CoalesceWindow, deduplicating
// repeated login attempts during a server's startup (spec §4.3).
func (j *Java) signalWake() {
	j.mu.Lock()
	now := time.Now()
	fire := now.Sub(j.lastWake) >= j.cfg.CoalesceWindow
	if fire {
		j.lastWake = now
	}
	j.mu.Unlock()

	if fire && j.onWake != nil {
		j.onWake(j.cfg.ServerID)
	}
}
