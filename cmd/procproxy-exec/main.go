// Command procproxy-exec is a manual-test harness for the shim. It listens
// on an ephemeral loopback port, spawns the given binary with
// PROCESS_PROXY_PORT and PROCESS_PROXY_TOKEN set, and then drives the
// protocol against it: it prints the argv, working directory, and
// environment size the shim reports, echoes a line through the shim's
// stdout, drains anything waiting on the shim's stdin, and finally tells it
// to exit.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/guseggert/procproxy/controller"
	"github.com/guseggert/procproxy/shim"
)

func main() {
	app := &cli.App{
		Name:      "procproxy-exec",
		Usage:     "run a binary under a local procproxy controller",
		ArgsUsage: "<binary> [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "token",
				Usage: "Handshake token to require. A random token is minted if unset.",
			},
			&cli.DurationFlag{
				Name:  "accept-timeout",
				Usage: "How long to wait for the shim to connect.",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no binary given")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	if !c.Bool("verbose") {
		logger = logger.WithOptions(zap.IncreaseLevel(zapcore.InfoLevel))
	}

	token := c.String("token")
	if token == "" {
		token = controller.NewToken()
	}

	lis, err := controller.Listen(0, controller.WithToken(token), controller.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("starting controller listener: %w", err)
	}
	defer lis.Close()

	cmd := exec.Command(c.Args().First(), c.Args().Tail()...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", shim.EnvPort, lis.Port()),
		fmt.Sprintf("%s=%s", shim.EnvToken, token),
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.Args().First(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("accept-timeout"))
	defer cancel()
	conn, err := lis.Accept(ctx)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("waiting for shim to connect: %w", err)
	}
	defer conn.Close()

	args, err := conn.Args()
	if err != nil {
		return fmt.Errorf("fetching argv: %w", err)
	}
	wd, err := conn.WorkingDirectory()
	if err != nil {
		return fmt.Errorf("fetching working directory: %w", err)
	}
	env, err := conn.Environ()
	if err != nil {
		return fmt.Errorf("fetching environment: %w", err)
	}
	fmt.Printf("argv: %q\n", args)
	fmt.Printf("cwd:  %s\n", wd)
	fmt.Printf("env:  %d entries\n", len(env))

	if err := conn.WriteStdout([]byte("hello from the controller\n")); err != nil {
		return fmt.Errorf("writing to shim stdout: %w", err)
	}

	if data, eof, err := conn.ReadStdin(4096); err != nil {
		return fmt.Errorf("polling shim stdin: %w", err)
	} else if eof {
		fmt.Println("stdin: closed")
	} else {
		fmt.Printf("stdin: %d bytes waiting\n", len(data))
	}

	if err := conn.Exit(0); err != nil {
		return fmt.Errorf("sending exit: %w", err)
	}

	err = cmd.Wait()
	if err != nil {
		return fmt.Errorf("shim exited: %w", err)
	}
	fmt.Println("shim exited cleanly")
	return nil
}
