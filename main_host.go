//go:build !tinygo

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"ositok/app"
	"ositok/hal"
)

func main() {
	var cfg app.Config
	var hz int
	var headless bool
	flag.BoolVar(&headless, "headless", false, "Run detached from stdio; attach via OSITO_SERIAL=tcp:addr.")
	flag.IntVar(&hz, "hz", 100, "Kernel tick rate.")
	flag.Uint64Var(&cfg.MaxTicks, "ticks", 0, "Stop after N ticks (0 = run forever).")
	flag.Var(hexFlag{&cfg.FlashBase}, "fs-base", "Filesystem base offset on flash.")
	flag.Parse()
	cfg.TickHz = hz

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	h := hal.New(hal.Config{TickHz: hz, Headless: headless})
	if err := app.Run(ctx, h, cfg); err != nil {
		if err == context.Canceled {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hexFlag parses 0x-prefixed or decimal offsets.
type hexFlag struct{ v *uint32 }

func (h hexFlag) String() string {
	if h.v == nil {
		return "0"
	}
	return fmt.Sprintf("0x%x", *h.v)
}

func (h hexFlag) Set(s string) error {
	var v uint64
	if _, err := fmt.Sscanf(s, "0x%x", &v); err != nil {
		if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
			return err
		}
	}
	*h.v = uint32(v)
	return nil
}
