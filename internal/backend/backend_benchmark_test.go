package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/dunamismax/imagebench/internal/storage"
)

func benchmarkEachBackend(b *testing.B, op domain.Operation) {
	root := b.TempDir()
	store, err := storage.NewFileStore(filepath.Join(root, "Images_after"), filepath.Join(root, "Images_modified"))
	if err != nil {
		b.Fatalf("new file store: %v", err)
	}
	reg, err := NewRegistry(store, "")
	if err != nil {
		b.Fatalf("new registry: %v", err)
	}
	if _, err := store.Put(context.Background(), domain.BucketOriginals, "bench.png", gradientPNG(b, 1920, 1080)); err != nil {
		b.Fatalf("seed source: %v", err)
	}

	for _, name := range reg.Names() {
		backend, _ := reg.Get(name)
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := backend.Apply(context.Background(), "bench.png", op); err != nil {
					b.Fatalf("%s: %v", op.Kind(), err)
				}
			}
		})
	}
}

func BenchmarkGrayscale(b *testing.B) {
	benchmarkEachBackend(b, domain.Grayscale{})
}

func BenchmarkResize(b *testing.B) {
	benchmarkEachBackend(b, domain.Resize{Width: 640, Height: 360})
}

func BenchmarkCrop(b *testing.B) {
	benchmarkEachBackend(b, domain.Crop{Rect: domain.Rect{X: 100, Y: 100, Width: 800, Height: 600}})
}

func BenchmarkComposite(b *testing.B) {
	benchmarkEachBackend(b, domain.DefaultComposite())
}
