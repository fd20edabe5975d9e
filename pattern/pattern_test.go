package pattern

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s417-lama/ityr-go/internal/cache"
	"github.com/s417-lama/ityr-go/internal/consistency"
	"github.com/s417-lama/ityr-go/internal/fence"
	"github.com/s417-lama/ityr-go/internal/sched"
	"github.com/s417-lama/ityr-go/internal/transport"
)

func newRunner(t *testing.T, policy fence.Policy, nworkers int) (*Runner, *sched.Pool) {
	t.Helper()
	cluster := transport.NewCluster(1)
	e := cache.New(cluster[0], 64, 16)
	t.Cleanup(e.Close)
	proto := consistency.New(e, nil)
	pool := sched.NewPool(nworkers)
	return &Runner{Worker: pool.Worker(0), Policy: policy, Protocol: proto}, pool
}

func TestInvoke2RunsBothBranches(t *testing.T) {
	r, _ := newRunner(t, fence.WorkFirst{}, 4)
	got := RootSpawn(r, func(w *sched.Worker) [2]int {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		x, y := Invoke2(rr,
			func(w *sched.Worker) int { return 21 },
			func(w *sched.Worker) int { return 21 },
		)
		return [2]int{x, y}
	})
	require.Equal(t, [2]int{21, 21}, got)
}

func TestInvokeNRunsAllBranches(t *testing.T) {
	r, _ := newRunner(t, fence.WorkFirst{}, 4)
	var count int32
	RootSpawn(r, func(w *sched.Worker) struct{} {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		InvokeN(rr,
			func(w *sched.Worker) { atomic.AddInt32(&count, 1) },
			func(w *sched.Worker) { atomic.AddInt32(&count, 1) },
			func(w *sched.Worker) { atomic.AddInt32(&count, 1) },
			func(w *sched.Worker) { atomic.AddInt32(&count, 1) },
		)
		return struct{}{}
	})
	require.EqualValues(t, 4, count)
}

func TestForVisitsEveryIndexExactlyOnce(t *testing.T) {
	r, _ := newRunner(t, fence.WorkFirst{}, 4)
	const n = 200
	var hits [n]int32
	RootSpawn(r, func(w *sched.Worker) struct{} {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		For(rr, 0, n, 4, func(w *sched.Worker, i int64) {
			atomic.AddInt32(&hits[i], 1)
		})
		return struct{}{}
	})
	for i, h := range hits {
		require.EqualValuesf(t, 1, h, "hits[%d]", i)
	}
}

func TestReduceSumsRange(t *testing.T) {
	r, _ := newRunner(t, fence.WorkFirst{}, 4)
	const n = 100
	sum := RootSpawn(r, func(w *sched.Worker) int64 {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		return Reduce(rr, 0, n, int64(0),
			func(a, b int64) int64 { return a + b },
			func(w *sched.Worker, i int64) int64 { return i },
			4,
		)
	})
	var want int64
	for i := int64(0); i < n; i++ {
		want += i
	}
	require.Equal(t, want, sum)
}

func TestTransformWritesEveryIndex(t *testing.T) {
	r, _ := newRunner(t, fence.WorkFirst{}, 4)
	const n = 64
	var out [n]int64
	RootSpawn(r, func(w *sched.Worker) struct{} {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		Transform(rr, 0, n, 4,
			func(w *sched.Worker, i int64) {},
			func(i int64) { atomic.StoreInt64(&out[i], i*i) },
		)
		return struct{}{}
	})
	for i := int64(0); i < n; i++ {
		require.Equalf(t, i*i, out[i], "out[%d]", i)
	}
}

func TestNaivePolicyFencesEveryInvoke(t *testing.T) {
	r, _ := newRunner(t, fence.Naive{}, 2)
	RootSpawn(r, func(w *sched.Worker) struct{} {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		InvokeN(rr,
			func(w *sched.Worker) {},
			func(w *sched.Worker) {},
		)
		return struct{}{}
	})
}

func TestSerialPolicyRunsBranchesInOrderOnOneWorker(t *testing.T) {
	r, _ := newRunner(t, fence.Serial{}, 4)
	var order []int
	RootSpawn(r, func(w *sched.Worker) struct{} {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		InvokeN(rr,
			func(w *sched.Worker) { order = append(order, 1); require.Equal(t, rr.Worker.Rank(), w.Rank()) },
			func(w *sched.Worker) { order = append(order, 2); require.Equal(t, rr.Worker.Rank(), w.Rank()) },
			func(w *sched.Worker) { order = append(order, 3); require.Equal(t, rr.Worker.Rank(), w.Rank()) },
		)
		return struct{}{}
	})
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestSerialPolicyForVisitsEveryIndexWithNoSpawn(t *testing.T) {
	r, _ := newRunner(t, fence.Serial{}, 4)
	const n = 50
	var hits [n]int
	RootSpawn(r, func(w *sched.Worker) struct{} {
		rr := &Runner{Worker: w, Policy: r.Policy, Protocol: r.Protocol}
		For(rr, 0, n, 4, func(w *sched.Worker, i int64) {
			require.Equal(t, rr.Worker.Rank(), w.Rank())
			hits[i]++
		})
		return struct{}{}
	})
	for i, h := range hits {
		require.Equalf(t, 1, h, "hits[%d]", i)
	}
}
