package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pterm/pterm"

	"github.com/chazu/lox/vm"
)

// replSession interprets one line at a time against a persistent VM.
// Globals survive across lines and errors.
type replSession struct {
	vm     *vm.VM
	stdout io.Writer
	stderr io.Writer
}

// runREPL starts an interactive read-eval-print loop
func (c *cli) runREPL() int {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      c.cfg.REPL.Prompt,
		HistoryFile: c.cfg.HistoryPath(),
	})
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitIO
	}
	defer rl.Close()

	v, _ := c.newVM()
	s := &replSession{vm: v, stdout: rl.Stdout(), stderr: rl.Stderr()}
	v.SetOutput(s.stdout)

	pterm.Info.Println("Lox REPL (type 'exit' to quit, ':help' for commands)")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if err != nil { // io.EOF
			break
		}
		if quit := s.handle(line); quit {
			break
		}
	}
	fmt.Fprintln(c.stdout)
	return exitOK
}

// handle processes one input line and reports whether the session should end.
func (s *replSession) handle(line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "exit" || line == "quit":
		return true
	case strings.HasPrefix(line, ":"):
		return s.command(line)
	}

	if _, err := s.vm.Interpret(line); err != nil {
		fmt.Fprint(s.stderr, pterm.Error.Sprintln(err.Error()))
	}
	return false
}

// command handles REPL meta-commands
func (s *replSession) command(cmd string) bool {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(s.stdout, "REPL Commands:")
		fmt.Fprintln(s.stdout, "  :help, :h, :?     Show this help")
		fmt.Fprintln(s.stdout, "  :globals          List defined globals")
		fmt.Fprintln(s.stdout, "  :gc               Collect garbage and show heap statistics")
		fmt.Fprintln(s.stdout, "  :quit, exit       Exit REPL")
	case ":globals":
		names := s.vm.GlobalNames()
		sort.Strings(names)
		for _, name := range names {
			val, _ := s.vm.Global(name)
			fmt.Fprintf(s.stdout, "  %s = %s\n", name, val)
		}
	case ":gc":
		h := s.vm.Heap()
		h.Collect()
		st := h.Stats()
		fmt.Fprintf(s.stdout, "  cycles: %d  freed: %d objects, %d bytes\n", st.Cycles, st.ObjectsFreed, st.BytesFreed)
		fmt.Fprintf(s.stdout, "  live: %d bytes  next collection at: %d bytes\n", st.BytesAllocated, st.NextGC)
	case ":quit", ":q":
		return true
	default:
		fmt.Fprintf(s.stdout, "Unknown command: %s (type :help for commands)\n", cmd)
	}
	return false
}
