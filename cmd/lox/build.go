package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chazu/lox/vm"
)

// runBuild processes the `lox build` subcommand.
// Usage:
//
//	lox build hello.lox              # ./hello.loxi
//	lox build hello.lox -o out.loxi  # custom output
func (c *cli) runBuild(args []string) int {
	var input, output string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-o" || args[i] == "--output":
			if i+1 >= len(args) {
				fmt.Fprintln(c.stderr, "Error: -o requires an output path")
				return exitUsage
			}
			output = args[i+1]
			i++
		case input == "":
			input = args[i]
		default:
			fmt.Fprintf(c.stderr, "Error: unexpected argument %q\n", args[i])
			return exitUsage
		}
	}
	if input == "" {
		fmt.Fprintln(c.stderr, "Usage: lox build <script.lox> [-o out.loxi]")
		return exitUsage
	}
	if output == "" {
		output = strings.TrimSuffix(input, ".lox") + ImageExt
	}

	source, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitIO
	}

	v, comp := c.newVM()
	fn, err := comp.Compile(v.Heap(), string(source))
	if err != nil {
		return c.report(err)
	}
	image, err := vm.EncodeImage(fn)
	if err != nil {
		return c.report(err)
	}
	if err := os.WriteFile(output, image, 0644); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitIO
	}

	c.log.Infof("wrote %s (%d bytes)", output, len(image))
	return exitOK
}

// runDisasm prints the bytecode listing of a script or image.
func (c *cli) runDisasm(args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(c.stderr, "Usage: lox disasm <script.lox|image%s>\n", ImageExt)
		return exitUsage
	}
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitIO
	}

	v, comp := c.newVM()
	var fn *vm.Function
	if strings.HasSuffix(path, ImageExt) {
		fn, err = v.LoadImage(data)
	} else {
		fn, err = comp.Compile(v.Heap(), string(data))
	}
	if err != nil {
		return c.report(err)
	}

	fmt.Fprint(c.stdout, vm.DisassembleFunction(fn))
	return exitOK
}
