//go:build !tinygo

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ositok/fs"
)

// putCmd runs the upload protocol from the host side:
//
//	host:   fs upload NAME SIZE
//	device: READY
//	host:   one sector of payload, then wait for '#', repeat
//	device: \nOK 0x%08x
//
// and verifies the CRC receipt against the local file.
func putCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a file into the device filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			if len(name) >= fs.NameLen {
				return fmt.Errorf("name %q longer than %d", name, fs.NameLen-1)
			}
			if len(data) == 0 {
				return fmt.Errorf("%s is empty", args[0])
			}

			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			return put(conn, name, data)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "target name (default: file base name)")
	return cmd
}

func put(conn net.Conn, name string, data []byte) error {
	r := bufio.NewReader(conn)

	fmt.Fprintf(conn, "fs upload %s %d\n", name, len(data))
	if err := expect(r, conn, []byte("READY\n")); err != nil {
		return err
	}

	sectors := (len(data) + fs.SectorSize - 1) / fs.SectorSize
	for sec := 0; sec < sectors; sec++ {
		chunk := data[sec*fs.SectorSize:]
		if len(chunk) > fs.SectorSize {
			chunk = chunk[:fs.SectorSize]
		}
		if _, err := conn.Write(chunk); err != nil {
			return err
		}
		if err := expect(r, conn, []byte{'#'}); err != nil {
			return err
		}
		fmt.Printf("\rsector %d/%d", sec+1, sectors)
	}
	fmt.Println()

	want := fmt.Sprintf("OK 0x%08x", fs.CRC16(data))
	if err := expect(r, conn, []byte(want)); err != nil {
		return fmt.Errorf("crc mismatch: %w", err)
	}
	fmt.Printf("uploaded %s, %d bytes, crc verified\n", name, len(data))
	return nil
}

// expect scans the device stream (which includes echoes and prompts)
// until token appears, or fails after a quiet period well past the
// device's own 10 s timeout.
func expect(r *bufio.Reader, conn net.Conn, token []byte) error {
	var seen []byte
	for {
		conn.SetReadDeadline(time.Now().Add(15 * time.Second))
		b, err := r.ReadByte()
		if err != nil {
			if len(seen) > 64 {
				seen = seen[len(seen)-64:]
			}
			return fmt.Errorf("waiting for %q, got %q: %w", token, seen, err)
		}
		seen = append(seen, b)
		if bytes.Contains(seen, token) {
			conn.SetReadDeadline(time.Time{})
			return nil
		}
		if bytes.Contains(seen, []byte("ERR")) {
			// Let the rest of the error line arrive.
			line, _ := r.ReadString('\n')
			return fmt.Errorf("device error: %s", string(seen)+line)
		}
	}
}
