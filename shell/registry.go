package shell

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type cmdFunc func(s *Shell, env *Env, args []string) error

type command struct {
	Name    string
	Aliases []string
	Usage   string
	Desc    string
	Run     cmdFunc
}

// registry is the console's command table. Commands live in a slice in
// registration order; a single word index resolves both primary names and
// aliases, and also feeds the line editor's tab completion.
type registry struct {
	cmds  []command
	index map[string]int // name or alias -> position in cmds
}

func newRegistry() *registry {
	return &registry{index: make(map[string]int)}
}

func (r *registry) register(cmd command) error {
	cmd.Name = strings.TrimSpace(cmd.Name)
	if cmd.Name == "" {
		return errors.New("shell: command with no name")
	}
	if cmd.Run == nil {
		return fmt.Errorf("shell: command %q has no handler", cmd.Name)
	}

	words := append([]string{cmd.Name}, cmd.Aliases...)
	for i, w := range words {
		words[i] = strings.TrimSpace(w)
		if words[i] == "" {
			continue
		}
		if _, taken := r.index[words[i]]; taken {
			return fmt.Errorf("shell: %q registered twice", words[i])
		}
	}

	pos := len(r.cmds)
	r.cmds = append(r.cmds, cmd)
	for _, w := range words {
		if w != "" {
			r.index[w] = pos
		}
	}
	return nil
}

func (r *registry) resolve(word string) (command, bool) {
	pos, ok := r.index[strings.TrimSpace(word)]
	if !ok {
		return command{}, false
	}
	return r.cmds[pos], true
}

// names returns the primary command names, sorted for help output.
func (r *registry) names() []string {
	out := make([]string, len(r.cmds))
	for i, c := range r.cmds {
		out[i] = c.Name
	}
	sort.Strings(out)
	return out
}

// matches returns every registered word (name or alias) starting with
// prefix, sorted. The line editor completes from this set.
func (r *registry) matches(prefix string) []string {
	var out []string
	for w := range r.index {
		if strings.HasPrefix(w, prefix) {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}
