//go:build !tinygo

// console is the host-side companion for a running OsitoK: an interactive
// terminal and an upload client for the framed file-transfer protocol.
//
// The device end is whatever the OS exposes as its UART; for the hosted
// build, the TCP listener selected with OSITO_SERIAL=tcp:addr.
//
//	console attach --addr 127.0.0.1:7755
//	console put --addr 127.0.0.1:7755 firmware.bin
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:           "console",
		Short:         "Attach to an OsitoK serial console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7755", "serial endpoint (tcp)")

	root.AddCommand(attachCmd(), putCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "console:", err)
		os.Exit(1)
	}
}

func dial() (net.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, nil
}
