package router

import (
	"fmt"
	"testing"
)

func benchRouter(b *testing.B) *Router[int] {
	b.Helper()
	r := New[int]()
	for i := range 50 {
		for _, tmpl := range []string{"/api/v1/res%d", "/api/v1/res%d/$", "/api/v1/res%d/$/items/$"} {
			if _, err := r.Register(fmt.Sprintf(tmpl, i), i); err != nil {
				b.Fatal(err)
			}
		}
	}
	return r
}

func BenchmarkResolveLiteral(b *testing.B) {
	r := benchRouter(b)
	segments := []string{RootSegment, "api", "v1", "res42"}

	b.ReportAllocs()
	for b.Loop() {
		if _, ok := r.Resolve(segments); !ok {
			b.Fatal("no match")
		}
	}
}

func BenchmarkLookupPlaceholders(b *testing.B) {
	r := benchRouter(b)
	segments := []string{RootSegment, "api", "v1", "res42", "1337", "items", "7"}

	b.ReportAllocs()
	for b.Loop() {
		if _, ok := r.Lookup(segments); !ok {
			b.Fatal("no match")
		}
	}
}

func BenchmarkSplitPath(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		if _, err := SplitPath("/api/v1/res42/caf%C3%A9/items/7?full=1"); err != nil {
			b.Fatal(err)
		}
	}
}
