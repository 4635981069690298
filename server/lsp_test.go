package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/lox/compiler"
	"github.com/chazu/lox/config"
	"github.com/chazu/lox/vm"
)

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"print cl", protocol.Position{Line: 0, Character: 8}, "cl"},
		{"cl", protocol.Position{Line: 0, Character: 2}, "cl"},
		{"", protocol.Position{Line: 0, Character: 0}, ""},
		{"first\nsecond\nva", protocol.Position{Line: 2, Character: 2}, "va"},
		{"a.method", protocol.Position{Line: 0, Character: 8}, "method"},
		{"hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"single", protocol.Position{Line: 5, Character: 0}, ""},
		{"short", protocol.Position{Line: 0, Character: 99}, "short"},
	}
	for _, tt := range tests {
		if got := extractPrefix(tt.text, tt.pos); got != tt.want {
			t.Errorf("extractPrefix(%q, %v) = %q, want %q", tt.text, tt.pos, got, tt.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"print counter;", protocol.Position{Line: 0, Character: 8}, "counter"},
		{"print counter;", protocol.Position{Line: 0, Character: 6}, "counter"},
		{"print counter;", protocol.Position{Line: 0, Character: 13}, "counter"},
		{"a + b", protocol.Position{Line: 0, Character: 2}, ""},
		{"x\nsnake_case", protocol.Position{Line: 1, Character: 3}, "snake_case"},
	}
	for _, tt := range tests {
		if got := extractWord(tt.text, tt.pos); got != tt.want {
			t.Errorf("extractWord(%q, %v) = %q, want %q", tt.text, tt.pos, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func compileErr(t *testing.T, source string) error {
	t.Helper()
	_, err := compiler.Compile(vm.NewHeap(vm.Config{}), source)
	if err == nil {
		t.Fatalf("%q compiled without errors", source)
	}
	return err
}

func TestToDiagnosticsNil(t *testing.T) {
	d := toDiagnostics(nil)
	if d == nil || len(d) != 0 {
		t.Errorf("toDiagnostics(nil) = %#v, want empty non-nil slice", d)
	}
}

func TestToDiagnosticsPositions(t *testing.T) {
	err := compileErr(t, "var x = 1;\n  print ;\nvar = 2;")
	diags := toDiagnostics(err)
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics, want 2: %v", len(diags), err)
	}

	first := diags[0]
	if first.Range.Start.Line != 1 || first.Range.Start.Character != 8 || first.Range.End.Character != 9 {
		t.Errorf("first range = %+v, want line 1 chars 8-9", first.Range)
	}
	if first.Message != "at ';': Expect expression." {
		t.Errorf("first message = %q", first.Message)
	}
	if first.Severity == nil || *first.Severity != protocol.DiagnosticSeverityError {
		t.Error("severity is not error")
	}
	if first.Source == nil || *first.Source != lspName {
		t.Error("source is not set")
	}

	second := diags[1]
	if second.Range.Start.Line != 2 || second.Range.Start.Character != 4 {
		t.Errorf("second range = %+v, want line 2 char 4", second.Range)
	}
}

func TestToDiagnosticsAtEndAndLexical(t *testing.T) {
	diags := toDiagnostics(compileErr(t, "print 1"))
	if len(diags) != 1 || diags[0].Message != "at end: Expect ';' after value." {
		t.Fatalf("diagnostics = %+v", diags)
	}
	if r := diags[0].Range; r.Start != r.End {
		t.Errorf("at-end range = %+v, want empty", r)
	}

	diags = toDiagnostics(compileErr(t, "print @;"))
	if len(diags) == 0 || diags[0].Message != "Unexpected character." {
		t.Fatalf("diagnostics = %+v", diags)
	}
	if diags[0].Range.Start.Character != 6 {
		t.Errorf("lexical error at char %d, want 6", diags[0].Range.Start.Character)
	}
}

func TestToDiagnosticsOtherError(t *testing.T) {
	diags := toDiagnostics(errors.New("boom"))
	if len(diags) != 1 || diags[0].Message != "boom" {
		t.Errorf("diagnostics = %+v", diags)
	}
}

// ---------------------------------------------------------------------------
// Symbols and language features
// ---------------------------------------------------------------------------

const sampleDoc = `var total = 0;
fun add(a, b) { return a + b; }
class Shape {
  init(name) { this.name = name; }
  area() { return 0; }
}
class Square < Shape {
  area() { var s = 2; return s * s; }
}
total = add(total, Square("sq").area());
`

func TestScanSymbols(t *testing.T) {
	syms := scanSymbols(compiler.Tokenize(sampleDoc))
	want := []struct {
		name  string
		kind  symbolKind
		line  int
		class string
	}{
		{"total", symbolVariable, 1, ""},
		{"add", symbolFunction, 2, ""},
		{"Shape", symbolClass, 3, ""},
		{"init", symbolMethod, 4, "Shape"},
		{"area", symbolMethod, 5, "Shape"},
		{"Square", symbolClass, 7, ""},
		{"area", symbolMethod, 8, "Square"},
		{"s", symbolVariable, 8, ""},
	}
	if len(syms) != len(want) {
		t.Fatalf("got %d symbols, want %d: %+v", len(syms), len(want), syms)
	}
	for i, w := range want {
		s := syms[i]
		if s.Name != w.name || s.Kind != w.kind || s.Pos.Line != w.line || s.Class != w.class {
			t.Errorf("symbol[%d] = %+v, want %s %s line %d", i, s, w.kind, w.name, w.line)
		}
	}

	add, _ := findSymbol(syms, "add")
	if signature(add) != "add(a, b)" {
		t.Errorf("signature = %q", signature(add))
	}
	sq, _ := findSymbol(syms, "Square")
	if sq.Super != "Shape" {
		t.Errorf("Square super = %q, want Shape", sq.Super)
	}
}

func TestCompleteIncludesDeclarationsNativesKeywords(t *testing.T) {
	items := complete([]string{"clock"}, sampleDoc, "c")
	labels := make(map[string]bool)
	for _, it := range items {
		labels[it.Label] = true
	}
	for _, want := range []string{"clock", "class"} {
		if !labels[want] {
			t.Errorf("completion for %q missing %q: %v", "c", want, labels)
		}
	}

	items = complete(nil, sampleDoc, "a")
	labels = make(map[string]bool)
	for _, it := range items {
		if labels[it.Label] {
			t.Errorf("duplicate completion %q", it.Label)
		}
		labels[it.Label] = true
	}
	for _, want := range []string{"add", "area", "and"} {
		if !labels[want] {
			t.Errorf("completion for %q missing %q", "a", want)
		}
	}
}

func TestHover(t *testing.T) {
	tests := []struct {
		word string
		want string
	}{
		{"add", "**fun** add(a, b)"},
		{"Square", "**class Square** < Shape"},
		{"clock", "**native fn** clock"},
		{"while", "keyword `while`"},
	}
	for _, tt := range tests {
		h := hover([]string{"clock"}, sampleDoc, tt.word)
		if h == nil {
			t.Errorf("hover(%q) = nil", tt.word)
			continue
		}
		mc := h.Contents.(protocol.MarkupContent)
		if !strings.HasPrefix(mc.Value, tt.want) {
			t.Errorf("hover(%q) = %q, want prefix %q", tt.word, mc.Value, tt.want)
		}
	}
	if h := hover(nil, sampleDoc, "nothing"); h != nil {
		t.Errorf("hover on unknown word = %+v, want nil", h)
	}
}

func TestReferences(t *testing.T) {
	uri := protocol.DocumentUri("file:///sample.lox")
	locs := references(uri, sampleDoc, "total")
	if len(locs) != 3 {
		t.Fatalf("got %d references to total, want 3", len(locs))
	}
	last := locs[2]
	if last.URI != uri || last.Range.Start.Line != 9 || last.Range.Start.Character != 12 {
		t.Errorf("last reference = %+v, want line 9 char 12", last)
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func TestCompileWorkerDiagnoses(t *testing.T) {
	w := newCompileWorker(vm.NewVM(vm.Config{StressGC: true}))
	defer w.stop()

	diagnostics, err := w.diagnose("var x = 1;\nprint x;")
	if err != nil {
		t.Fatal(err)
	}
	if diagnostics == nil || len(diagnostics) != 0 {
		t.Errorf("clean document: diagnostics = %v, want empty", diagnostics)
	}

	diagnostics, err = w.diagnose("print ;\nvar = 2;")
	if err != nil {
		t.Fatal(err)
	}
	if len(diagnostics) != 2 {
		t.Fatalf("got %d diagnostics, want 2: %v", len(diagnostics), diagnostics)
	}
	if diagnostics[1].Range.Start.Line != 1 {
		t.Errorf("second diagnostic on line %d, want 1", diagnostics[1].Range.Start.Line)
	}
}

func TestCompileWorkerConcurrentDocuments(t *testing.T) {
	w := newCompileWorker(vm.NewVM(vm.Config{StressGC: true}))
	defer w.stop()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := fmt.Sprintf("fun f%d(a) { return a + %d; } print f%d(1);", i, i, i)
			if i%2 == 1 {
				src += " print ;"
			}
			diagnostics, err := w.diagnose(src)
			switch {
			case err != nil:
				errs <- err
			case i%2 == 0 && len(diagnostics) != 0, i%2 == 1 && len(diagnostics) != 1:
				errs <- fmt.Errorf("document %d: %d diagnostics", i, len(diagnostics))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCompileWorkerStop(t *testing.T) {
	w := newCompileWorker(vm.NewVM(vm.Config{}))
	w.stop()
	w.stop()
	if _, err := w.diagnose("print 1;"); !errors.Is(err, errWorkerStopped) {
		t.Errorf("diagnose after stop = %v, want errWorkerStopped", err)
	}
}

func TestNewLSPDefaults(t *testing.T) {
	s := NewLSP(nil)
	defer s.worker.stop()
	if s.handler.Initialize == nil || s.handler.TextDocumentDidOpen == nil {
		t.Error("handler not wired")
	}

	s2 := NewLSP(config.Default())
	defer s2.worker.stop()
	if s2.server == nil {
		t.Error("server not created")
	}
	if !containsString(s2.natives, "clock") {
		t.Errorf("natives = %v, want clock", s2.natives)
	}
}
