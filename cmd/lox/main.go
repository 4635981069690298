// Lox CLI - runs Lox scripts and compiled images, or starts the REPL
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/lox/cache"
	"github.com/chazu/lox/compiler"
	"github.com/chazu/lox/config"
	"github.com/chazu/lox/server"
	"github.com/chazu/lox/vm"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes follow sysexits.h.
const (
	exitOK      = 0
	exitUsage   = 64
	exitCompile = 65
	exitRuntime = 70
	exitIO      = 74
)

// ImageExt marks compiled image files.
const ImageExt = ".loxi"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli holds what every subcommand needs.
type cli struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
	log    commonlog.Logger
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("lox", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to lox.toml (default: search upward from the working directory)")
	verbose := fs.Bool("v", false, "Verbose logging")
	trace := fs.Bool("trace", false, "Trace every executed instruction")
	printCode := fs.Bool("print-code", false, "Print the bytecode of every compiled function")
	stressGC := fs.Bool("stress-gc", false, "Collect garbage on every allocation")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: lox [options] [script]\n")
		fmt.Fprintf(stderr, "       lox [options] build <script.lox> [-o out%s]\n", ImageExt)
		fmt.Fprintf(stderr, "       lox [options] disasm <script.lox|image%s>\n", ImageExt)
		fmt.Fprintf(stderr, "       lox [options] lsp\n\n")
		fmt.Fprintf(stderr, "Runs a .lox script or %s image. With no script, starts the REPL.\n\n", ImageExt)
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  lox                          # Start REPL\n")
		fmt.Fprintf(stderr, "  lox hello.lox                # Compile and run\n")
		fmt.Fprintf(stderr, "  lox build hello.lox          # Write hello%s\n", ImageExt)
		fmt.Fprintf(stderr, "  lox hello%s                # Run a compiled image\n", ImageExt)
		fmt.Fprintf(stderr, "  lox -trace -stress-gc t.lox  # Debug the VM\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	cfg.Debug.TraceExecution = cfg.Debug.TraceExecution || *trace
	cfg.Debug.PrintCode = cfg.Debug.PrintCode || *printCode
	cfg.GC.Stress = cfg.GC.Stress || *stressGC
	if *verbose && cfg.Log.Verbosity < 2 {
		cfg.Log.Verbosity = 2
	}
	configureLogging(cfg)

	c := &cli{cfg: cfg, stdout: stdout, stderr: stderr, log: commonlog.GetLogger("lox.cli")}
	if cfg.Dir != "" {
		c.log.Infof("using %s", filepath.Join(cfg.Dir, config.FileName))
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return c.runREPL()
	}
	switch rest[0] {
	case "build":
		return c.runBuild(rest[1:])
	case "disasm":
		return c.runDisasm(rest[1:])
	case "lsp":
		if err := server.NewLSP(cfg).Run(); err != nil {
			fmt.Fprintf(stderr, "LSP error: %v\n", err)
			return exitIO
		}
		return exitOK
	}
	if len(rest) > 1 {
		fs.Usage()
		return exitUsage
	}
	return c.runFile(rest[0])
}

func configureLogging(cfg *config.Config) {
	var path *string
	if cfg.Log.File != "" {
		p := cfg.Log.File
		if !filepath.IsAbs(p) && cfg.Dir != "" {
			p = filepath.Join(cfg.Dir, p)
		}
		path = &p
	}
	commonlog.Configure(cfg.Log.Verbosity, path)
}

// newVM creates a VM and the compiler feeding it, both configured from the
// CLI's configuration.
func (c *cli) newVM() (*vm.VM, *compiler.Compiler) {
	vcfg := c.cfg.VMConfig()
	vcfg.Output = c.stdout
	vcfg.TraceOutput = c.stderr
	v := vm.NewVM(vcfg)

	comp := compiler.New(compiler.Options{PrintCode: c.cfg.Debug.PrintCode, Output: c.stderr})
	v.UseCompiler(comp.Func())
	return v, comp
}

// runFile runs a source script or a compiled image.
func (c *cli) runFile(path string) int {
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
		fn, err = c.compileSource(v, comp, string(data))
	}
	if err != nil {
		return c.report(err)
	}

	_, err = v.Execute(fn)
	return c.report(err)
}

// compileSource compiles source on v's heap, going through the image cache
// when it is enabled. A cache that cannot be opened is skipped.
func (c *cli) compileSource(v *vm.VM, comp *compiler.Compiler, source string) (*vm.Function, error) {
	if !c.cfg.Cache.Enabled {
		return comp.Compile(v.Heap(), source)
	}
	store, err := cache.Open(c.cfg.CachePath())
	if err != nil {
		c.log.Warningf("cache disabled: %s", err)
		return comp.Compile(v.Heap(), source)
	}
	defer store.Close()
	return store.Load(v, comp.Compile, source)
}

// report prints err and maps it to an exit code.
func (c *cli) report(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(c.stderr, err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case compiler.IsCompileError(err), errors.Is(err, vm.ErrBadImage):
		return exitCompile
	case vm.IsRuntimeError(err):
		return exitRuntime
	default:
		return exitIO
	}
}
