package vm_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/lox/compiler"
	"github.com/chazu/lox/vm"
)

// ---------------------------------------------------------------------------
// End-to-end: source through the compiler and the VM
// ---------------------------------------------------------------------------

func newInterpreter(cfg vm.Config) (*vm.VM, *bytes.Buffer) {
	var out bytes.Buffer
	cfg.Output = &out
	v := vm.NewVM(cfg)
	v.UseCompiler(compiler.Compile)
	return v, &out
}

func run(t *testing.T, cfg vm.Config, source string) (string, error) {
	t.Helper()
	v, out := newInterpreter(cfg)
	_, err := v.Interpret(source)
	return out.String(), err
}

var scenarios = []struct {
	name   string
	source string
	want   string
}{
	{
		name:   "shadowing",
		source: `var a = 1; { var a = 2; print a; } print a;`,
		want:   "2\n1\n",
	},
	{
		name: "counter closure",
		source: `fun make(x) { fun inc() { x = x + 1; return x; } return inc; }
var c = make(0); print c(); print c();`,
		want: "1\n2\n",
	},
	{
		name: "shared upvalue",
		source: `var get; var set;
fun pair() {
  var v = "before";
  fun g() { return v; }
  fun s(n) { v = n; }
  get = g; set = s;
  s("open");
  print g();
}
pair();
set("closed");
print get();`,
		want: "open\nclosed\n",
	},
	{
		name: "independent captures per iteration",
		source: `var fs1; var fs2;
for (var i = 0; i < 2; i = i + 1) {
  var j = i;
  fun f() { return j; }
  if (i == 0) fs1 = f; else fs2 = f;
}
print fs1(); print fs2();`,
		want: "0\n1\n",
	},
	{
		name:   "arithmetic",
		source: `print 1 + 2; print 10 - 4 * 2; print (1 + 2) * 3; print 7 % 4; print -8 / 2;`,
		want:   "3\n2\n9\n3\n-4\n",
	},
	{
		name:   "string concat is interned",
		source: `var s = "a" + "b"; print s == "ab"; print s;`,
		want:   "true\nab\n",
	},
	{
		name:   "truthiness",
		source: `if (0) print "zero"; if ("") print "empty"; if (nil) print "nil"; else print "nil falsey"; print !false;`,
		want:   "zero\nempty\nnil falsey\ntrue\n",
	},
	{
		name:   "logical operators",
		source: `print nil or "d"; print 1 and 2; print false and boom;`,
		want:   "d\n2\nfalse\n",
	},
	{
		name:   "comparisons",
		source: `print 1 < 2; print 2 <= 2; print 3 > 4; print 4 >= 4; print 1 == 1; print 1 != 1; print nil == false;`,
		want:   "true\ntrue\nfalse\ntrue\ntrue\nfalse\nfalse\n",
	},
	{
		name:   "nan compares false",
		source: `var nan = 0/0; print nan <= 1; print nan >= 1; print nan == nan;`,
		want:   "false\nfalse\nfalse\n",
	},
	{
		name:   "while loop",
		source: `var i = 0; while (i < 3) { print i; i = i + 1; }`,
		want:   "0\n1\n2\n",
	},
	{
		name:   "for loop",
		source: `for (var i = 0; i < 3; i = i + 1) print i;`,
		want:   "0\n1\n2\n",
	},
	{
		name: "multiple breaks",
		source: `for (var i = 0; ; i = i + 1) {
  var local = i * 2;
  if (i == 5) break;
  if (local == 6) { var inner = 1; break; }
}
print "done";`,
		want: "done\n",
	},
	{
		name: "nested loop breaks",
		source: `for (var i = 0; i < 3; i = i + 1) {
  var j = 0;
  while (true) {
    if (j == i) break;
    j = j + 1;
  }
  print j;
  if (i == 1) break;
}`,
		want: "0\n1\n",
	},
	{
		name: "break closes captured locals",
		source: `var f;
while (true) {
  var captured = "kept";
  fun g() { return captured; }
  f = g;
  break;
}
print f();`,
		want: "kept\n",
	},
	{
		name:   "recursion",
		source: `fun fib(n) { if (n < 2) return n; return fib(n - 2) + fib(n - 1); } print fib(15);`,
		want:   "610\n",
	},
	{
		name: "classes and methods",
		source: `class Point {
  init(x, y) { this.x = x; this.y = y; }
  sum() { return this.x + this.y; }
}
var p = Point(3, 4);
print p.sum();
print p;
print Point;
var m = p.sum;
p.x = 10;
print m();`,
		want: "7\nPoint instance\nPoint\n14\n",
	},
	{
		name: "fields shadow methods",
		source: `class A { m() { return "method"; } }
fun f() { return "field"; }
var a = A();
print a.m();
a.m = f;
print a.m();`,
		want: "method\nfield\n",
	},
	{
		name: "inheritance and super",
		source: `class Base {
  init(n) { this.n = n; }
  describe() { return "base " + this.n; }
}
class Derived < Base {
  init(n) { super.init(n + "!"); }
  describe() { return "derived " + super.describe(); }
  bound() { var d = super.describe; return d(); }
}
var d = Derived("x");
print d.describe();
print d.bound();`,
		want: "derived base x!\nbase x!\n",
	},
	{
		name:   "initializer returns this",
		source: `class A { init() { this.v = 1; return; } } var a = A(); print a.init().v;`,
		want:   "1\n",
	},
	{
		name:   "function values",
		source: `fun f() {} print f; print clock; print f();`,
		want:   "<fn f>\n<native fn>\nnil\n",
	},
	{
		name:   "number formatting",
		source: `print 0.1 + 0.2; print 1000000; print 1 / 3; print -0;`,
		want:   "0.3\n1e+06\n0.333333\n-0\n",
	},
}

func TestScenarios(t *testing.T) {
	for _, tt := range scenarios {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, vm.Config{}, tt.source)
			if err != nil {
				t.Fatalf("Interpret: %v", err)
			}
			if got != tt.want {
				t.Errorf("output =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

// TestScenariosUnderStressGC runs every scenario collecting on each
// allocation, so any unrooted temporary would be freed while in use.
func TestScenariosUnderStressGC(t *testing.T) {
	for _, tt := range scenarios {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, vm.Config{StressGC: true}, tt.source)
			if err != nil {
				t.Fatalf("Interpret: %v", err)
			}
			if got != tt.want {
				t.Errorf("output =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

// TestScenariosFromImages runs every scenario from a compiled image, so
// everything the compiler emits must pass image verification.
func TestScenariosFromImages(t *testing.T) {
	for _, tt := range scenarios {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := compiler.Compile(vm.NewHeap(vm.Config{}), tt.source)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			data, err := vm.EncodeImage(fn)
			if err != nil {
				t.Fatalf("EncodeImage: %v", err)
			}
			v, out := newInterpreter(vm.Config{StressGC: true})
			loaded, err := v.LoadImage(data)
			if err != nil {
				t.Fatalf("LoadImage: %v", err)
			}
			if _, err := v.Execute(loaded); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("output =\n%s\nwant\n%s", out.String(), tt.want)
			}
		})
	}
}

func TestRuntimeErrorTrace(t *testing.T) {
	source := `fun a() { b(); }
fun b() { c(); }
fun c() {
  return 1 + "x";
}
a();`
	_, err := run(t, vm.Config{}, source)
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *vm.RuntimeError", err)
	}
	want := `Operands must be two numbers or two strings.
[line 4] in c()
[line 2] in b()
[line 1] in a()
[line 6] in script`
	if re.Error() != want {
		t.Errorf("error =\n%s\nwant\n%s", re.Error(), want)
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{`print 1 + "a";`, "Operands must be two numbers or two strings."},
		{`print -"a";`, "Operand must be a number."},
		{`print "a" < "b";`, "Operands must be numbers."},
		{`print undefined;`, "Undefined variable 'undefined'."},
		{`undefined = 1;`, "Undefined variable 'undefined'."},
		{`"str"();`, "Can only call functions and classes."},
		{`fun f(a) {} f();`, "Expected 1 arguments but got 0."},
		{`class A {} A(1);`, "Expected 0 arguments but got 1."},
		{`class A { init(x) {} } A();`, "Expected 1 arguments but got 0."},
		{`class A {} print A().missing;`, "Undefined property 'missing'."},
		{`class A {} A().missing();`, "Undefined property 'missing'."},
		{`var x = 1; print x.y;`, "Only instances have properties."},
		{`var x = 1; x.y = 2;`, "Only instances have fields."},
		{`var x = 1; x.y();`, "Only instances have methods."},
		{`var NotClass = 1; class B < NotClass {}`, "Superclass must be a class."},
		{`fun f() { f(); } f();`, "Stack overflow."},
	}
	for _, tt := range tests {
		v, _ := newInterpreter(vm.Config{})
		res, err := v.Interpret(tt.source)
		if res != vm.InterpretRuntimeError {
			t.Errorf("%s: result = %s (%v), want runtime error", tt.source, res, err)
			continue
		}
		var re *vm.RuntimeError
		if !errors.As(err, &re) || re.Message != tt.want {
			t.Errorf("%s: error = %v, want %q", tt.source, err, tt.want)
		}
	}
}

func TestCompileErrorResult(t *testing.T) {
	v, out := newInterpreter(vm.Config{})
	res, err := v.Interpret(`print "never"; print ;`)
	if res != vm.InterpretCompileError {
		t.Fatalf("result = %s, want compile error", res)
	}
	if !compiler.IsCompileError(err) {
		t.Errorf("error %T is not a compile error", err)
	}
	if out.Len() != 0 {
		t.Errorf("code ran despite a compile error: %q", out.String())
	}
}

// TestBreakRestoresStackDepth checks that leaving a loop by break leaves the
// value stack as it was before the loop.
func TestBreakRestoresStackDepth(t *testing.T) {
	v, out := newInterpreter(vm.Config{})
	source := `{
  var before = "x";
  while (true) {
    var a = 1;
    var b = 2;
    if (a < b) break;
  }
  var after = "y";
  print before + after;
}`
	if _, err := v.Interpret(source); err != nil {
		t.Fatal(err)
	}
	if out.String() != "xy\n" {
		t.Errorf("output = %q", out.String())
	}
	if v.StackDepth() != 0 {
		t.Errorf("StackDepth = %d after script, want 0", v.StackDepth())
	}
}

func TestGlobalsPersistAcrossInterpret(t *testing.T) {
	v, out := newInterpreter(vm.Config{})
	steps := []string{
		`var count = 1;`,
		`print missing;`, // runtime error; the session continues
		`count = count + 1;`,
		`print count;`,
	}
	for _, s := range steps {
		v.Interpret(s)
	}
	if out.String() != "2\n" {
		t.Errorf("output = %q, want %q", out.String(), "2\n")
	}
	if _, ok := v.Global("count"); !ok {
		t.Error("global count not visible through Global")
	}
}

func TestGarbageIsCollected(t *testing.T) {
	v, _ := newInterpreter(vm.Config{InitialGCThreshold: 64 * 1024})
	source := `
class Node { init(next) { this.next = next; } }
for (var i = 0; i < 20000; i = i + 1) {
  var chain = Node(Node(Node(nil)));
  var s = "garbage" + "string";
}`
	if _, err := v.Interpret(source); err != nil {
		t.Fatal(err)
	}
	h := v.Heap()
	stats := h.Stats()
	if stats.Cycles == 0 {
		t.Fatal("no collection ran")
	}
	if stats.ObjectsFreed == 0 {
		t.Error("collections freed nothing")
	}
	h.Collect()
	if h.BytesAllocated() > 64*1024 {
		t.Errorf("live bytes after script = %d, want the garbage reclaimed", h.BytesAllocated())
	}
}

func TestTraceAndDisassembly(t *testing.T) {
	var trace bytes.Buffer
	v, _ := newInterpreter(vm.Config{TraceExecution: true, TraceOutput: &trace})
	if _, err := v.Interpret(`print 1;`); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(trace.String(), "OP_PRINT") {
		t.Errorf("trace missing OP_PRINT:\n%s", trace.String())
	}
}

func TestImageOfCompiledScript(t *testing.T) {
	src := `fun greet(who) { return "hello " + who; }
class Box { init(v) { this.v = v; } get() { return this.v; } }
print greet(Box("world").get());`

	h := vm.NewHeap(vm.Config{})
	fn, err := compiler.Compile(h, src)
	if err != nil {
		t.Fatal(err)
	}
	data, err := vm.EncodeImage(fn)
	if err != nil {
		t.Fatal(err)
	}

	v, out := newInterpreter(vm.Config{StressGC: true})
	loaded, err := v.LoadImage(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Execute(loaded); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hello world\n" {
		t.Errorf("output = %q", out.String())
	}
}
