//go:build tinygo

package main

import (
	"context"

	"ositok/app"
	"ositok/hal"
)

func main() {
	h := hal.New(hal.Config{TickHz: 100})
	_ = app.Run(context.Background(), h, app.Config{})
}
