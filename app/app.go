// Package app wires the HAL, the kernel, the allocators, the filesystem
// and the shell into a bootable system.
package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ositok/fs"
	"ositok/hal"
	"ositok/kernel"
	"ositok/mem"
	"ositok/shell"
	"ositok/uart"
)

// Config tunes the boot.
type Config struct {
	TickHz    int
	MaxTasks  int
	StackSize uint32

	// FlashBase is the byte offset of the filesystem on the flash part.
	FlashBase uint32

	// PoolBlocks/PoolBlockSize/HeapSize size the allocators.
	PoolBlocks    uint32
	PoolBlockSize uint32
	HeapSize      uint32

	// MaxTicks, when non-zero, makes Run return after that many ticks
	// have been delivered. Used for bounded headless runs.
	MaxTicks uint64
}

func (c *Config) fill() {
	if c.TickHz <= 0 {
		c.TickHz = 100
	}
	if c.PoolBlocks == 0 {
		c.PoolBlocks = 256
	}
	if c.PoolBlockSize == 0 {
		c.PoolBlockSize = 32
	}
	if c.HeapSize == 0 {
		c.HeapSize = 8192
	}
}

// System is a booted OsitoK instance.
type System struct {
	Kernel *kernel.Kernel
	Pool   *mem.Pool
	Heap   *mem.Heap
	Port   *uart.Port
	FS     *fs.FS
	Shell  *shell.Shell
}

// Boot constructs every subsystem and creates the shell task. The
// scheduler is started; interrupts are not yet being delivered, that is
// Run's job.
func Boot(h hal.HAL, cfg Config) (*System, error) {
	cfg.fill()
	log := h.Logger()

	k := kernel.New(kernel.Config{
		TickHz:    cfg.TickHz,
		MaxTasks:  cfg.MaxTasks,
		StackSize: cfg.StackSize,
		Log:       log,
	})

	pool := mem.NewPool(cfg.PoolBlockSize, cfg.PoolBlocks, k.IRQ())
	heap := mem.NewHeap(cfg.HeapSize, k.IRQ())

	port := uart.NewPort(h.Serial(), k.IRQ())
	k.SetUARTISR(port.ISR)

	filesys := fs.New(h.Flash(), fs.Config{
		Base:   cfg.FlashBase,
		TickHz: cfg.TickHz,
		IRQ:    k.IRQ(),
		Log:    log,
	})
	if err := filesys.Mount(); err != nil {
		// Unmounted is a usable state: the shell can still format.
		log.WriteLineString("boot: filesystem unavailable until formatted")
	}

	sh, err := shell.New(k, port, filesys, pool, heap)
	if err != nil {
		return nil, err
	}
	if _, err := k.CreateTask("shell", sh.Run, nil, 1); err != nil {
		return nil, err
	}

	if err := k.Start(); err != nil {
		return nil, err
	}

	return &System{
		Kernel: k,
		Pool:   pool,
		Heap:   heap,
		Port:   port,
		FS:     filesys,
		Shell:  sh,
	}, nil
}

// Run boots the system and pumps interrupts until ctx is cancelled, or
// until MaxTicks ticks have been delivered: the tick stream drives
// TickISR, received serial bytes are pushed into the UART FIFO and raise
// the UART interrupt.
func Run(ctx context.Context, h hal.HAL, cfg Config) error {
	sys, err := Boot(h, cfg)
	if err != nil {
		return err
	}
	k := sys.Kernel

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticks := h.Time().Ticks()
		var delivered uint64
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticks:
				k.TickISR()
				delivered++
				if cfg.MaxTicks > 0 && delivered >= cfg.MaxTicks {
					return nil
				}
			}
		}
	})

	// The serial read blocks in the OS; it cannot be cancelled, so it
	// lives outside the errgroup and dies with the process.
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := h.Serial().Read(buf)
			if err != nil {
				return
			}
			if n > 0 {
				sys.Port.PushFIFO(buf[:n])
				k.InterruptSet(kernel.IntUART)
			}
		}
	}()

	return g.Wait()
}
