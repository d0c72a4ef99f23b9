// Package shell is the interactive console: a line editor over the UART
// port and a command registry dispatching onto the kernel, the allocators
// and the filesystem. It runs as an ordinary task.
package shell

import (
	"fmt"
	"strings"

	"github.com/google/shlex"

	"ositok/fs"
	"ositok/internal/buildinfo"
	"ositok/kernel"
	"ositok/mem"
	"ositok/uart"
)

const cmdBufSize = 128

// Shell holds the console's collaborators.
type Shell struct {
	k     *kernel.Kernel
	port  *uart.Port
	fs    *fs.FS
	pool  *mem.Pool
	heap  *mem.Heap
	outMu *kernel.Mutex
	reg   *registry
}

// Env is the per-invocation state a command runs with.
type Env struct {
	tc *kernel.TaskContext
}

// New wires a shell. The output mutex serialises console writes against
// other tasks using the same port.
func New(k *kernel.Kernel, port *uart.Port, filesys *fs.FS, pool *mem.Pool, heap *mem.Heap) (*Shell, error) {
	s := &Shell{
		k:     k,
		port:  port,
		fs:    filesys,
		pool:  pool,
		heap:  heap,
		outMu: k.NewMutex(),
		reg:   newRegistry(),
	}
	if err := registerCoreCommands(s.reg); err != nil {
		return nil, err
	}
	if err := registerFSCommands(s.reg); err != nil {
		return nil, err
	}
	return s, nil
}

// Run is the shell task entry point.
func (s *Shell) Run(tc *kernel.TaskContext, _ any) {
	env := &Env{tc: tc}

	s.print(env, "\nOsitoK "+buildinfo.Version+" (type 'help' for commands)\n")

	buf := make([]byte, 0, cmdBufSize)
	s.print(env, "osito> ")
	for {
		c := s.getc(tc)
		switch {
		case c == '\r' || c == '\n':
			s.print(env, "\n")
			line := string(buf)
			buf = buf[:0]
			s.dispatch(env, line)
			s.print(env, "osito> ")
		case c == '\t':
			buf = s.complete(env, buf)
		case c == 0x7F || c == 0x08: // backspace
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				s.print(env, "\b \b")
			}
		case c >= 0x20 && c < 0x7F && len(buf) < cmdBufSize-1:
			buf = append(buf, byte(c))
			s.port.Putc(byte(c)) // echo
		}
	}
}

// complete expands the command word in place. A unique match fills in the
// rest of the word; several matches are listed and the line redrawn. Only
// the first word completes; arguments are file names the table may not
// even hold yet.
func (s *Shell) complete(env *Env, buf []byte) []byte {
	line := string(buf)
	if line == "" || strings.ContainsRune(line, ' ') {
		return buf
	}

	ms := s.reg.matches(line)
	switch len(ms) {
	case 0:
		return buf
	case 1:
		rest := ms[0][len(line):] + " "
		s.print(env, rest)
		return append(buf, rest...)
	default:
		s.print(env, "\n"+strings.Join(ms, "  ")+"\nosito> "+line)
		return buf
	}
}

// getc blocks for the next console byte, yielding while the line is idle.
func (s *Shell) getc(tc *kernel.TaskContext) int {
	for {
		if c := s.port.Getc(); c >= 0 {
			return c
		}
		tc.Yield()
	}
}

func (s *Shell) dispatch(env *Env, line string) {
	args, err := shlex.Split(line)
	if err != nil {
		s.print(env, "parse error: "+err.Error()+"\n")
		return
	}
	if len(args) == 0 {
		return
	}

	cmd, ok := s.reg.resolve(args[0])
	if !ok {
		s.print(env, "unknown command '"+args[0]+"', type 'help' for commands\n")
		return
	}
	if err := cmd.Run(s, env, args[1:]); err != nil {
		s.print(env, err.Error()+"\n")
	}
}

// print writes to the console under the output mutex.
func (s *Shell) print(env *Env, text string) {
	s.outMu.Lock(env.tc)
	s.port.WriteString(text)
	s.outMu.Unlock()
}

func (s *Shell) printf(env *Env, format string, args ...any) {
	s.print(env, fmt.Sprintf(format, args...))
}
