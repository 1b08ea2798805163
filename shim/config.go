package shim

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables read once at startup.
const (
	// EnvPort names the controller's TCP port. Required.
	EnvPort = "PROCESS_PROXY_PORT"

	// EnvToken carries the opaque handshake token. Optional; absent is
	// treated as an empty token (an all-zero token field on the wire).
	EnvToken = "PROCESS_PROXY_TOKEN"

	// EnvDebug, when set to any non-empty value, enables debug logging to
	// stderr. Off by default: the controller owns the shim's streams, so
	// nothing may write to them unasked.
	EnvDebug = "PROCESS_PROXY_DEBUG"
)

// Config is the shim's startup configuration.
type Config struct {
	// Port is the controller's TCP port on 127.0.0.1.
	Port int

	// Token is sent in the handshake for the controller to verify.
	Token string

	// Debug enables the stderr development logger.
	Debug bool
}

// FromEnv builds a Config from the process environment. A missing or
// out-of-range port is an error; the caller is expected to print it to
// stderr and exit non-zero without attempting a connection.
func FromEnv() (Config, error) {
	portStr, ok := os.LookupEnv(EnvPort)
	if !ok || portStr == "" {
		return Config{}, fmt.Errorf("%s is not set", EnvPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port in %s: %q", EnvPort, portStr)
	}
	if port < 1 || port > 65535 {
		return Config{}, fmt.Errorf("port %d in %s is outside 1-65535", port, EnvPort)
	}
	return Config{
		Port:  port,
		Token: os.Getenv(EnvToken),
		Debug: os.Getenv(EnvDebug) != "",
	}, nil
}
