package walkdirs

// Code in this file was adapted from Carl Johnson's "flowmatic" package,
// distributed with the following license.

// MIT License

// Copyright (c) 2022 Carl Johnson

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:

// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

import (
	"runtime"
	"sync"

	"github.com/carlmjohnson/deque"
)

// manager serially examines task results and returns new task inputs.
// Returning false halts processing.
type manager[Input, Output any] func(Input, Output, error) (tasks []Input, ok bool)

// task concurrently transforms an input into an output.
type task[Input, Output any] func(in Input) (out Output, err error)

// doTailingTasks runs tasks using n concurrent workers (GOMAXPROCS workers
// if n < 1) whose output is consumed by a serially-run manager. Tasks in the
// queue are evaluated in last in, first out order. A panic in a task is
// rethrown in the calling goroutine.
func doTailingTasks[Input, Output any](n int, task task[Input, Output], manager manager[Input, Output], initial ...Input) {
	in, out := start(n, task)
	defer func() {
		close(in)
		// drain any waiting tasks
		for range out {
		}
	}()
	queue := deque.Of(initial...)
	inflight := 0
	for inflight > 0 || queue.Len() > 0 {
		inch := in
		item, ok := queue.Tail()
		if !ok {
			inch = nil
		}
		select {
		case inch <- item:
			inflight++
			queue.PopTail()
		case r := <-out:
			inflight--
			if r.Panic != nil {
				panic(r.Panic)
			}
			items, ok := manager(r.In, r.Out, r.Err)
			if !ok {
				return
			}
			queue.Append(items...)
		}
	}
}

// result is the type returned by the output channel of start.
type result[Input, Output any] struct {
	In    Input
	Out   Output
	Err   error
	Panic any
}

// start n workers (or GOMAXPROCS workers if n < 1) which consume the in
// channel, execute task, and send results on the out channel. Callers close
// the in channel to stop the workers; the out channel is closed after the
// last result.
func start[Input, Output any](n int, task task[Input, Output]) (in chan<- Input, out <-chan result[Input, Output]) {
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	inch := make(chan Input)
	ouch := make(chan result[Input, Output], n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if pval := recover(); pval != nil {
					ouch <- result[Input, Output]{Panic: pval}
				}
			}()
			for inval := range inch {
				outval, err := task(inval)
				ouch <- result[Input, Output]{inval, outval, err, nil}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(ouch)
	}()
	return inch, ouch
}
