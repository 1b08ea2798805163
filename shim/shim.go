package shim

import (
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	intnet "github.com/guseggert/procproxy/internal/net"
	"github.com/guseggert/procproxy/wire"
)

// Shim holds everything the connector and command loop need: the startup
// configuration, the argv snapshot (through Sys), and the single connection.
// It is constructed once in main and passed around explicitly; there is no
// ambient global state.
type Shim struct {
	cfg  Config
	log  *zap.SugaredLogger
	sys  Sys
	dial func(port int) (net.Conn, error)
	exit func(code int)
}

type Option func(s *Shim)

func WithLogger(l *zap.Logger) Option {
	return func(s *Shim) {
		s.log = l.Named("shim").Sugar()
	}
}

// WithSys replaces the OS capability surface, for tests.
func WithSys(sys Sys) Option {
	return func(s *Shim) {
		s.sys = sys
	}
}

// WithDialer replaces the loopback TCP dialer, for tests.
func WithDialer(dial func(port int) (net.Conn, error)) Option {
	return func(s *Shim) {
		s.dial = dial
	}
}

// WithExitFunc replaces os.Exit for the exit command, for tests.
func WithExitFunc(exit func(code int)) Option {
	return func(s *Shim) {
		s.exit = exit
	}
}

// New constructs a Shim serving the real process state: os.Args, the real
// standard streams, and os.Exit.
func New(cfg Config, opts ...Option) *Shim {
	s := &Shim{
		cfg:  cfg,
		log:  zap.NewNop().Sugar(),
		sys:  newOSSys(os.Args),
		dial: intnet.DialLoopback,
		exit: os.Exit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run connects to the controller, sends the handshake, and serves commands
// until the connection ends. It returns an error only for startup failures
// (connecting, transmitting the handshake); once the command loop is entered,
// every way out is a normal return. Run does not return if the controller
// sends an exit command.
func (s *Shim) Run() error {
	conn, err := s.dial(s.cfg.Port)
	if err != nil {
		return fmt.Errorf("connecting to controller on port %d: %w", s.cfg.Port, err)
	}
	defer conn.Close()

	if err := wire.WriteFull(conn, wire.HandshakeMessage(s.cfg.Token)); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}
	s.log.Debugw("handshake sent", "Port", s.cfg.Port)

	s.serve(conn)
	return nil
}
