//go:build !tinygo

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-tty"
	"github.com/spf13/cobra"
)

// attachCmd bridges the local terminal to the device console: raw
// keystrokes out, device bytes in. Ctrl-] detaches.
func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Interactive console session",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			t, err := tty.Open()
			if err != nil {
				return fmt.Errorf("open tty: %w", err)
			}
			defer t.Close()

			fmt.Fprintf(t.Output(), "[connected to %s, ctrl-] to exit]\r\n", addr)

			done := make(chan struct{})
			go func() {
				defer close(done)
				io.Copy(os.Stdout, conn)
			}()

			for {
				r, err := t.ReadRune()
				if err != nil {
					return err
				}
				if r == 0x1D { // ctrl-]
					return nil
				}
				if _, err := conn.Write([]byte(string(r))); err != nil {
					return err
				}
				select {
				case <-done:
					return nil
				default:
				}
			}
		},
	}
}
