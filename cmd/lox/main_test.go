package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/lox/cache"
	"github.com/chazu/lox/config"
	"github.com/chazu/lox/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeFile writes a file into dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

// runLox runs the CLI with a private configuration file in dir.
func runLox(t *testing.T, dir, configBody string, args ...string) (int, string, string) {
	t.Helper()
	cfgPath := writeFile(t, dir, config.FileName, configBody)
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"-config", cfgPath}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// ---------------------------------------------------------------------------
// Running scripts
// ---------------------------------------------------------------------------

func TestRunScript(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "hello.lox", `var greeting = "hello"; print greeting + " world";`)

	code, out, errOut := runLox(t, dir, "", script)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, errOut)
	}
	if out != "hello world\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestExitCodes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		source string
		code   int
		stderr string
	}{
		{"ok", `print 1;`, exitOK, ""},
		{"compile error", `print ;`, exitCompile, "[line 1] Error at ';': Expect expression."},
		{"runtime error", "var x = 1;\nprint -\"a\";", exitRuntime, "Operand must be a number.\n[line 2] in script"},
		{"stack overflow", `fun f() { f(); } f();`, exitRuntime, "Stack overflow."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeFile(t, dir, "t.lox", tt.source)
			code, _, errOut := runLox(t, dir, "", script)
			if code != tt.code {
				t.Errorf("exit = %d, want %d (stderr: %s)", code, tt.code, errOut)
			}
			if !strings.Contains(errOut, tt.stderr) {
				t.Errorf("stderr = %q, want it to contain %q", errOut, tt.stderr)
			}
		})
	}
}

func TestUsageAndIOErrors(t *testing.T) {
	dir := t.TempDir()

	if code, _, _ := runLox(t, dir, "", "a.lox", "b.lox"); code != exitUsage {
		t.Errorf("two scripts: exit = %d, want %d", code, exitUsage)
	}
	if code, _, _ := runLox(t, dir, "", "-no-such-flag"); code != exitUsage {
		t.Errorf("unknown flag: exit = %d, want %d", code, exitUsage)
	}
	if code, _, _ := runLox(t, dir, "", filepath.Join(dir, "missing.lox")); code != exitIO {
		t.Errorf("missing script: exit = %d, want %d", code, exitIO)
	}
	if code, _, _ := runLox(t, dir, "[vm\n"); code != exitUsage {
		t.Errorf("bad config: exit = %d, want %d", code, exitUsage)
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "t.lox", `fun f() { return 1; } print f();`)

	code, out, errOut := runLox(t, dir, "", "-trace", "-print-code", "-stress-gc", script)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, errOut)
	}
	if out != "1\n" {
		t.Errorf("stdout = %q", out)
	}
	for _, want := range []string{"== f ==", "== <script> ==", "OP_CALL"} {
		if !strings.Contains(errOut, want) {
			t.Errorf("stderr missing %q", want)
		}
	}
}

// ---------------------------------------------------------------------------
// Images and the cache
// ---------------------------------------------------------------------------

func TestBuildThenRunImage(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "prog.lox", `
class Counter {
  init() { this.n = 0; }
  inc() { this.n = this.n + 1; return this; }
}
print Counter().inc().inc().n;`)

	code, _, errOut := runLox(t, dir, "", "build", script)
	if code != exitOK {
		t.Fatalf("build exit = %d, stderr: %s", code, errOut)
	}
	image := filepath.Join(dir, "prog"+ImageExt)
	if _, err := os.Stat(image); err != nil {
		t.Fatalf("image not written: %v", err)
	}

	code, out, errOut := runLox(t, dir, "", image)
	if code != exitOK {
		t.Fatalf("run image exit = %d, stderr: %s", code, errOut)
	}
	if out != "2\n" {
		t.Errorf("stdout = %q, want 2", out)
	}
}

func TestBuildOutputFlagAndErrors(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "p.lox", `print "built";`)
	out := filepath.Join(dir, "custom.loxi")

	if code, _, errOut := runLox(t, dir, "", "build", script, "-o", out); code != exitOK {
		t.Fatalf("build exit = %d, stderr: %s", code, errOut)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("custom output missing: %v", err)
	}

	if code, _, _ := runLox(t, dir, "", "build"); code != exitUsage {
		t.Errorf("build without input: exit = %d, want %d", code, exitUsage)
	}
	if code, _, _ := runLox(t, dir, "", "build", script, "-o"); code != exitUsage {
		t.Errorf("build -o without path: exit = %d, want %d", code, exitUsage)
	}
	bad := writeFile(t, dir, "bad.lox", `print ;`)
	if code, _, _ := runLox(t, dir, "", "build", bad); code != exitCompile {
		t.Errorf("build of bad source: exit = %d, want %d", code, exitCompile)
	}
}

func TestRunCorruptImage(t *testing.T) {
	dir := t.TempDir()
	image := writeFile(t, dir, "junk"+ImageExt, "definitely not cbor")
	code, _, errOut := runLox(t, dir, "", image)
	if code != exitCompile {
		t.Errorf("exit = %d, want %d (stderr: %s)", code, exitCompile, errOut)
	}
}

func TestDisasm(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "d.lox", `fun g() { return 2; } print g();`)

	code, out, errOut := runLox(t, dir, "", "disasm", script)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, errOut)
	}
	for _, want := range []string{"== <script> ==", "== g ==", "OP_CLOSURE", "OP_RETURN"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}

	if code, _, _ := runLox(t, dir, "", "disasm"); code != exitUsage {
		t.Errorf("disasm without file: exit = %d, want %d", code, exitUsage)
	}
}

func TestRunThroughCache(t *testing.T) {
	dir := t.TempDir()
	cfg := "[cache]\nenabled = true\npath = \"cache/images.db\"\n"
	script := writeFile(t, dir, "c.lox", `print "cached";`)

	for i := 0; i < 2; i++ {
		code, out, errOut := runLox(t, dir, cfg, script)
		if code != exitOK || out != "cached\n" {
			t.Fatalf("run %d: exit = %d, stdout = %q, stderr: %s", i, code, out, errOut)
		}
	}

	store, err := cache.Open(filepath.Join(dir, "cache", "images.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	data, err := store.Get(`print "cached";`)
	if err != nil {
		t.Fatalf("image not cached: %v", err)
	}
	if _, err := vm.NewVM(vm.Config{}).LoadImage(data); err != nil {
		t.Errorf("cached image does not load: %v", err)
	}
}

// ---------------------------------------------------------------------------
// REPL session
// ---------------------------------------------------------------------------

func newTestSession() (*replSession, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	c := &cli{cfg: config.Default(), stdout: &stdout, stderr: &stderr}
	v, _ := c.newVM()
	return &replSession{vm: v, stdout: &stdout, stderr: &stderr}, &stdout, &stderr
}

func TestREPLSessionKeepsGlobals(t *testing.T) {
	s, stdout, stderr := newTestSession()

	for _, line := range []string{
		"var a = 1;",
		"print nope;",
		"a = a + 41;",
		"print a;",
	} {
		if s.handle(line) {
			t.Fatalf("%q ended the session", line)
		}
	}
	if stdout.String() != "42\n" {
		t.Errorf("stdout = %q, want 42", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Undefined variable 'nope'.") {
		t.Errorf("stderr = %q, want the runtime error", stderr.String())
	}
}

func TestREPLCommands(t *testing.T) {
	s, stdout, _ := newTestSession()

	s.handle("var answer = 42;")
	s.handle(":globals")
	if !strings.Contains(stdout.String(), "answer = 42") {
		t.Errorf(":globals output = %q", stdout.String())
	}

	stdout.Reset()
	s.handle(":gc")
	if !strings.Contains(stdout.String(), "cycles: 1") {
		t.Errorf(":gc output = %q", stdout.String())
	}

	stdout.Reset()
	s.handle(":bogus")
	if !strings.Contains(stdout.String(), "Unknown command") {
		t.Errorf("unknown command output = %q", stdout.String())
	}

	if s.handle("") {
		t.Error("empty line ended the session")
	}
	for _, quit := range []string{"exit", "quit", ":quit"} {
		if !s.handle(quit) {
			t.Errorf("%q did not end the session", quit)
		}
	}
}
