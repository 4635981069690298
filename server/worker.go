package server

import (
	"errors"
	"fmt"
	"sync"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/lox/compiler"
	"github.com/chazu/lox/vm"
)

var errWorkerStopped = errors.New("compile worker stopped")

// compileJob asks the worker to check one document.
type compileJob struct {
	source string
	done   chan compileOutcome
}

type compileOutcome struct {
	diagnostics []protocol.Diagnostic
	err         error
}

// compileWorker owns the heap documents are compiled on. glsp runs
// handlers on its own goroutines and the heap is single-threaded, so every
// compile is handed to the worker's goroutine.
type compileWorker struct {
	heap *vm.Heap
	jobs chan compileJob
	quit chan struct{}
	once sync.Once
}

func newCompileWorker(v *vm.VM) *compileWorker {
	w := &compileWorker{
		heap: v.Heap(),
		jobs: make(chan compileJob, 16),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *compileWorker) loop() {
	for {
		select {
		case job := <-w.jobs:
			job.done <- w.check(job.source)
		case <-w.quit:
			return
		}
	}
}

// check compiles source and converts the result to diagnostics. A panic in
// the compiler is reported as an error instead of killing the server.
func (w *compileWorker) check(source string) (out compileOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = compileOutcome{err: fmt.Errorf("compiler panic: %v", r)}
		}
	}()
	_, err := compiler.Compile(w.heap, source)
	return compileOutcome{diagnostics: toDiagnostics(err)}
}

// diagnose compiles source on the worker and waits for its diagnostics.
// An empty slice means the document compiles.
func (w *compileWorker) diagnose(source string) ([]protocol.Diagnostic, error) {
	select {
	case <-w.quit:
		return nil, errWorkerStopped
	default:
	}

	job := compileJob{source: source, done: make(chan compileOutcome, 1)}
	select {
	case w.jobs <- job:
	case <-w.quit:
		return nil, errWorkerStopped
	}
	select {
	case out := <-job.done:
		return out.diagnostics, out.err
	case <-w.quit:
		return nil, errWorkerStopped
	}
}

func (w *compileWorker) stop() {
	w.once.Do(func() { close(w.quit) })
}
