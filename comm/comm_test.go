package comm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointToPointTagMatching(t *testing.T) {
	w := NewWorld(2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c := w.Comm(0)
		// Send tags out of order; the receiver picks them by tag.
		c.Isend(1, 5, []byte{5}).Wait()
		c.Isend(1, 3, []byte{3}).Wait()
		c.Isend(1, 3, []byte{33})
	}()
	go func() {
		defer wg.Done()
		c := w.Comm(1)
		if got := c.Irecv(0, 3).Wait(); got[0] != 3 {
			t.Errorf("tag 3: got %d", got[0])
		}
		if got := c.Irecv(0, 5).Wait(); got[0] != 5 {
			t.Errorf("tag 5: got %d", got[0])
		}
		// FIFO within one (source, tag) key.
		if got := c.Irecv(0, 3).Wait(); got[0] != 33 {
			t.Errorf("tag 3 second message: got %d", got[0])
		}
	}()
	wg.Wait()
}

func TestAllreduce(t *testing.T) {
	const p = 4
	w := NewWorld(p)
	w.Run(func(c Comm) {
		sum := c.AllreduceFloat64(OpSum, []float64{float64(c.Rank()), 1})
		if sum[0] != 6 || sum[1] != p {
			t.Errorf("rank %d: sum=%v", c.Rank(), sum)
		}
		max := c.AllreduceInt64(OpMax, []int64{int64(c.Rank())})
		if max[0] != p-1 {
			t.Errorf("rank %d: max=%v", c.Rank(), max)
		}
		min := c.AllreduceInt64(OpMin, []int64{int64(c.Rank() + 10)})
		if min[0] != 10 {
			t.Errorf("rank %d: min=%v", c.Rank(), min)
		}
	})
}

func TestExscan(t *testing.T) {
	const p = 5
	w := NewWorld(p)
	var mu sync.Mutex
	got := make([]float64, p)
	w.Run(func(c Comm) {
		v := c.ExscanFloat64(float64(c.Rank() + 1))
		mu.Lock()
		got[c.Rank()] = v
		mu.Unlock()
	})
	// Exclusive prefix of 1,2,3,4,5.
	want := []float64{0, 1, 3, 6, 10}
	for r := range want {
		if got[r] != want[r] {
			t.Errorf("rank %d: exscan=%g, want %g", r, got[r], want[r])
		}
	}
}

func TestAllgather(t *testing.T) {
	const p = 3
	w := NewWorld(p)
	w.Run(func(c Comm) {
		all := c.AllgatherFloat64([]float64{float64(c.Rank()) * 2})
		assert.Equal(t, []float64{0, 2, 4}, all, "rank %d", c.Rank())
	})
}

func TestGraphAllgather(t *testing.T) {
	// Ring of 4: neighbors are rank±1.
	const p = 4
	w := NewWorld(p)
	w.Run(func(c Comm) {
		left := (c.Rank() + p - 1) % p
		right := (c.Rank() + 1) % p
		g := c.Graph([]int{left, right})
		defer g.Free()
		vals := g.AllgatherFloat64([]float64{float64(c.Rank())})
		if len(vals) != 2 || vals[0][0] != float64(left) || vals[1][0] != float64(right) {
			t.Errorf("rank %d: neighbor values %v", c.Rank(), vals)
		}
	})
}

func TestGraphUseAfterFreePanics(t *testing.T) {
	w := NewWorld(1)
	g := w.Comm(0).Graph(nil)
	g.Free()
	defer func() {
		if recover() == nil {
			t.Fatalf("use after Free must panic")
		}
	}()
	g.AllgatherFloat64([]float64{1})
}

func TestCodecRoundTrip(t *testing.T) {
	b := AppendInt32s(nil, []int32{1, -2, 3})
	b = AppendInt32s(b, nil)
	v1, off := Int32sAt(b, 0)
	v2, end := Int32sAt(b, off)
	assert.Equal(t, []int32{1, -2, 3}, v1)
	assert.Empty(t, v2)
	assert.Equal(t, len(b), end)

	f := Float64s(AppendFloat64s(nil, []float64{0.5, -1.25}))
	assert.Equal(t, []float64{0.5, -1.25}, f)

	i := Int64s(AppendInt64s(nil, []int64{9, -9}))
	assert.Equal(t, []int64{9, -9}, i)
}
