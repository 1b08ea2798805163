// Command procproxy is the process-control shim. It reads its controller's
// TCP port from PROCESS_PROXY_PORT, connects to it on loopback, and then
// serves the command protocol until the controller disconnects or tells it
// to exit.
//
// It deliberately parses no command-line flags: its argument vector belongs
// to the controller, which reads it back over the protocol. All
// configuration is environment variables.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/guseggert/procproxy/shim"
)

func main() {
	cfg, err := shim.FromEnv()
	if err != nil {
		fatal(err)
	}

	var opts []shim.Option
	if cfg.Debug {
		// The development logger writes to stderr. Debug runs accept
		// that this mixes with controller-driven stderr writes.
		logger, err := zap.NewDevelopment()
		if err != nil {
			fatal(fmt.Errorf("building logger: %w", err))
		}
		defer logger.Sync()
		opts = append(opts, shim.WithLogger(logger))
	}

	if err := shim.New(cfg, opts...).Run(); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
