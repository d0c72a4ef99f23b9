//go:build !tinygo

// mkflash builds a flash image with a formatted OsitoFS and optional seed
// files, ready to be used as the host flash backing store or written to a
// real part.
//
//	mkflash -o osito.flash -size 1048576 file1.txt notes/readme.md
//
// Each argument is stored under its base name; NAME=PATH stores PATH
// under NAME.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ositok/fs"
	"ositok/hal"
)

func main() {
	var (
		out  = flag.String("o", "osito.flash", "Output image path.")
		size = flag.Int64("size", 1*1024*1024, "Image size in bytes.")
		base = flag.Uint64("base", 0, "Filesystem base offset.")
	)
	flag.Parse()

	if err := run(*out, *size, uint32(*base), flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "mkflash:", err)
		os.Exit(1)
	}
}

func run(out string, size int64, base uint32, seeds []string) error {
	// Start from a fresh image so stale metadata cannot survive.
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return err
	}

	dev, err := hal.NewFileFlash(out, size)
	if err != nil {
		return err
	}

	f := fs.New(dev, fs.Config{Base: base})
	if err := f.Format(); err != nil {
		return err
	}

	for _, seed := range seeds {
		name, path, ok := strings.Cut(seed, "=")
		if !ok {
			path = seed
			name = filepath.Base(seed)
		}
		if len(name) >= fs.NameLen {
			return fmt.Errorf("name %q longer than %d", name, fs.NameLen-1)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := f.Create(name, data); err != nil {
			return fmt.Errorf("add %q: %w", name, err)
		}
		fmt.Printf("added %-24s %d bytes\n", name, len(data))
	}

	fmt.Printf("image %s: %d data sectors, %d bytes free\n",
		out, f.DataSectors(), f.FreeBytes())
	return nil
}
