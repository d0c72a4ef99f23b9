package shell

import (
	"fmt"
	"strings"

	"ositok/internal/buildinfo"
)

func registerCoreCommands(r *registry) error {
	for _, cmd := range []command{
		{Name: "help", Aliases: []string{"?"}, Usage: "help", Desc: "List commands.", Run: cmdHelp},
		{Name: "echo", Usage: "echo [text...]", Desc: "Print arguments.", Run: cmdEcho},
		{Name: "ps", Usage: "ps", Desc: "List tasks.", Run: cmdPS},
		{Name: "mem", Aliases: []string{"free"}, Usage: "mem", Desc: "Pool and heap statistics.", Run: cmdMem},
		{Name: "ticks", Usage: "ticks", Desc: "Show the tick counter.", Run: cmdTicks},
		{Name: "uptime", Usage: "uptime", Desc: "Seconds since boot.", Run: cmdUptime},
		{Name: "uname", Usage: "uname", Desc: "Kernel identification.", Run: cmdUname},
	} {
		if err := r.register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func cmdHelp(s *Shell, env *Env, _ []string) error {
	s.print(env, "commands:\n")
	for _, name := range s.reg.names() {
		cmd, _ := s.reg.resolve(name)
		s.printf(env, "  %-8s %s\n", name, cmd.Desc)
	}
	return nil
}

func cmdEcho(s *Shell, env *Env, args []string) error {
	s.print(env, strings.Join(args, " ")+"\n")
	return nil
}

func cmdPS(s *Shell, env *Env, _ []string) error {
	s.print(env, "ID  Name          State     Pri  Ticks\n")
	for _, t := range s.k.Tasks() {
		s.printf(env, "%-3d %-13s %-9s %-4d %d\n",
			t.ID, t.Name, t.State, t.Priority, t.TicksRun)
	}
	return nil
}

func cmdMem(s *Shell, env *Env, _ []string) error {
	s.printf(env, "pool: %d free / %d used (%d-byte blocks)\n",
		s.pool.FreeCount(), s.pool.UsedCount(), s.pool.BlockSize())
	s.printf(env, "heap: %d free / %d used, largest %d, %d fragments\n",
		s.heap.FreeTotal(), s.heap.UsedTotal(), s.heap.LargestFree(), s.heap.FragCount())
	return nil
}

func cmdTicks(s *Shell, env *Env, _ []string) error {
	s.printf(env, "Tick count: %d\n", s.k.TickCount())
	return nil
}

func cmdUptime(s *Shell, env *Env, _ []string) error {
	t := s.k.TickCount()
	hz := uint32(s.k.TickHz())
	s.printf(env, "up %d.%02d s\n", t/hz, (t%hz)*100/hz)
	return nil
}

func cmdUname(s *Shell, env *Env, _ []string) error {
	s.print(env, fmt.Sprintf("OsitoK %s, %d Hz tick\n", buildinfo.Version, s.k.TickHz()))
	return nil
}
