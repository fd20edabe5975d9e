// Command ityr-bench is a minimal, non-normative harness exercising
// pattern.Invoke2/Reduce end-to-end: fib(n) via nested Invoke2, and a
// parallel sum over [0, n) via Reduce. Flags are intentionally bare
// (standard library flag, no third-party CLI framework) since this is a
// throwaway demo binary, not part of the library's public surface.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	ityr "github.com/s417-lama/ityr-go"
	"github.com/s417-lama/ityr-go/internal/sched"
	"github.com/s417-lama/ityr-go/pattern"
)

func main() {
	var (
		workload = flag.String("workload", "fib", "workload to run: fib or sum")
		n        = flag.Int("n", 30, "fib: which Fibonacci number; sum: upper bound of [0, n)")
		cutoff   = flag.Int("cutoff", 12, "fib: at or below this n, run serially; sum: leaf range size")
		workers  = flag.Int("workers", 4, "number of scheduler workers")
		cache    = flag.Int("cache-blocks", 64, "cache capacity in blocks")
	)
	flag.Parse()

	rt, err := ityr.InitN(*cache, *workers)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init:", err)
		os.Exit(1)
	}
	defer func() {
		if err := ityr.Fini(); err != nil {
			fmt.Fprintln(os.Stderr, "fini:", err)
		}
	}()

	if *workload != "fib" && *workload != "sum" {
		fmt.Fprintf(os.Stderr, "unknown workload %q (want fib or sum)\n", *workload)
		os.Exit(2)
	}

	start := time.Now()
	var result int64

	if err := rt.Run(func(w *sched.Worker) {
		r := rt.Runner(w.Rank())
		switch *workload {
		case "fib":
			result = int64(fib(r, *n, *cutoff))
		case "sum":
			result = parallelSum(r, int64(*n), pattern.Cutoff(*cutoff))
		}
	}); err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		os.Exit(1)
	}

	fmt.Printf("workload=%s n=%d result=%d elapsed=%s\n", *workload, *n, result, time.Since(start))
}

func fib(r *pattern.Runner, n, cutoff int) int {
	if n < 2 {
		return n
	}
	if n <= cutoff {
		return fib(r, n-1, cutoff) + fib(r, n-2, cutoff)
	}
	a, b := pattern.Invoke2(r,
		func(w *sched.Worker) int { return fib(childRunner(r, w), n-1, cutoff) },
		func(w *sched.Worker) int { return fib(childRunner(r, w), n-2, cutoff) },
	)
	return a + b
}

func parallelSum(r *pattern.Runner, n int64, cutoff pattern.Cutoff) int64 {
	return pattern.Reduce(r, 0, n, int64(0),
		func(a, b int64) int64 { return a + b },
		func(w *sched.Worker, i int64) int64 { return i },
		cutoff,
	)
}

// childRunner rebinds a Runner to the Worker a spawned branch actually
// executes on, since a stolen branch may run on a different Worker than
// the one that called Invoke2.
func childRunner(r *pattern.Runner, w *sched.Worker) *pattern.Runner {
	return &pattern.Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
}
