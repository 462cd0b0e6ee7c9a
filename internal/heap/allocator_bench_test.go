package heap

import "testing"

// Benchmarks follow the teacher's bench_test.go shape
// (NikoMalik-sync_pool/bench_test.go): named sub-benchmarks comparing
// allocation patterns rather than one flat Benchmark function.
func BenchmarkAllocator(b *testing.B) {
	a := New()
	if err := a.Init(testBase, 64<<20); err != nil {
		b.Fatal(err)
	}

	b.Run("MallocFree", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			p := a.Malloc(128)
			a.Free(p)
		}
	})

	b.Run("MallocNoFree", func(b *testing.B) {
		a2 := New()
		if err := a2.Init(testBase, uintptr(b.N+1)*256); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			a2.Malloc(128)
		}
	})
}
