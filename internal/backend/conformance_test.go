package backend

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/dunamismax/imagebench/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := Startup(); err != nil {
		panic(err)
	}
	code := m.Run()
	Shutdown()
	os.Exit(code)
}

type fixture struct {
	store *storage.FileStore
	reg   *Registry
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()

	root := t.TempDir()
	store, err := storage.NewFileStore(filepath.Join(root, "Images_after"), filepath.Join(root, "Images_modified"))
	require.NoError(t, err)
	reg, err := NewRegistry(store, "", opts...)
	require.NoError(t, err)
	return fixture{store: store, reg: reg}
}

// eachBackend runs fn once per compiled-in variant against a fresh store.
func eachBackend(t *testing.T, fn func(t *testing.T, b Backend, store *storage.FileStore)) {
	t.Helper()
	eachBackendWith(t, nil, fn)
}

func eachBackendWith(t *testing.T, opts []Option, fn func(t *testing.T, b Backend, store *storage.FileStore)) {
	t.Helper()

	for _, name := range newFixture(t).reg.Names() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, opts...)
			b, err := f.reg.Get(name)
			require.NoError(t, err)
			fn(t, b, f.store)
		})
	}
}

func TestGrayscaleRedSquare(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		put(t, store, "r.png", solidPNG(t, 100, 100, color.NRGBA{R: 255, A: 255}))

		out, err := b.Grayscale(context.Background(), "r.png")
		require.NoError(t, err)

		img := decodePNG(t, out)
		require.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
		for _, p := range []image.Point{{0, 0}, {50, 50}, {99, 99}, {13, 87}} {
			c := nrgbaAt(img, p.X, p.Y)
			assert.Equal(t, c.R, c.G, "pixel %v", p)
			assert.Equal(t, c.G, c.B, "pixel %v", p)
			assert.InDelta(t, 54, int(c.R), 1, "pixel %v", p)
		}
	})
}

func TestGrayscaleIsIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		ctx := context.Background()
		put(t, store, "g.png", gradientPNG(t, 64, 48))

		first, err := b.Grayscale(ctx, "g.png")
		require.NoError(t, err)
		put(t, store, "once.png", first)

		second, err := b.Grayscale(ctx, "once.png")
		require.NoError(t, err)

		a, c := decodePNG(t, first), decodePNG(t, second)
		require.Equal(t, a.Bounds(), c.Bounds())
		for y := 0; y < 48; y += 7 {
			for x := 0; x < 64; x += 5 {
				assert.InDelta(t, int(nrgbaAt(a, x, y).R), int(nrgbaAt(c, x, y).R), 1, "pixel %d,%d", x, y)
			}
		}
	})
}

func TestGrayscalePreservesLuminanceOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		// Blue is darker than green under the luminance weights.
		put(t, store, "split.png", splitPNG(t, 40, 20, color.NRGBA{B: 255, A: 255}, color.NRGBA{G: 255, A: 255}))

		out, err := b.Grayscale(context.Background(), "split.png")
		require.NoError(t, err)

		img := decodePNG(t, out)
		assert.Less(t, nrgbaAt(img, 5, 10).R, nrgbaAt(img, 35, 10).R)
	})
}

func TestResizeExactDimensions(t *testing.T) {
	cases := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{name: "shrink", width: 37, height: 23, wantW: 37, wantH: 23},
		{name: "grow without aspect", width: 250, height: 40, wantW: 250, wantH: 40},
		{name: "degenerate", width: 0, height: -5, wantW: 1, wantH: 1},
	}

	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		put(t, store, "r.png", solidPNG(t, 100, 100, color.NRGBA{R: 255, A: 255}))

		for _, tc := range cases {
			out, err := b.Resize(context.Background(), "r.png", tc.width, tc.height)
			require.NoError(t, err, tc.name)

			img := decodePNG(t, out)
			assert.Equal(t, tc.wantW, img.Bounds().Dx(), tc.name)
			assert.Equal(t, tc.wantH, img.Bounds().Dy(), tc.name)
		}
	})
}

func TestCropInsideBounds(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		put(t, store, "split.png", splitPNG(t, 100, 100, color.NRGBA{R: 255, A: 255}, color.NRGBA{B: 255, A: 255}))

		out, err := b.Crop(context.Background(), "split.png", domain.Rect{X: 60, Y: 20, Width: 30, Height: 40})
		require.NoError(t, err)

		img := decodePNG(t, out)
		require.Equal(t, 30, img.Bounds().Dx())
		require.Equal(t, 40, img.Bounds().Dy())
		assert.Equal(t, color.NRGBA{B: 255, A: 255}, nrgbaAt(img, 0, 0))
		assert.Equal(t, color.NRGBA{B: 255, A: 255}, nrgbaAt(img, 29, 39))
	})
}

func TestCropClampsDimensionsToOne(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		put(t, store, "r.png", solidPNG(t, 10, 10, color.NRGBA{R: 255, A: 255}))

		out, err := b.Crop(context.Background(), "r.png", domain.Rect{X: 9, Y: 9, Width: 0, Height: -3})
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 1, 1), decodePNG(t, out).Bounds())
	})
}

func TestCropOutOfBounds(t *testing.T) {
	rects := []domain.Rect{
		{X: 90, Y: 0, Width: 20, Height: 10},
		{X: 0, Y: 95, Width: 10, Height: 10},
		{X: -1, Y: 0, Width: 10, Height: 10},
		{X: 0, Y: 0, Width: 101, Height: 100},
		{X: 100, Y: 100, Width: 1, Height: 1},
		{X: math.MaxInt - 2, Y: 0, Width: 5, Height: 5},
		{X: 0, Y: math.MaxInt - 2, Width: 5, Height: 5},
		{X: math.MaxInt, Y: math.MaxInt, Width: 1, Height: 1},
		{X: 1, Y: 0, Width: math.MaxInt, Height: 1},
	}

	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		ctx := context.Background()
		put(t, store, "r.png", solidPNG(t, 100, 100, color.NRGBA{R: 255, A: 255}))

		for _, rect := range rects {
			_, err := b.Crop(ctx, "r.png", rect)
			require.ErrorIs(t, err, domain.ErrGeometryOutOfBounds, "rect %+v", rect)
		}

		_, err := store.Stat(ctx, domain.BucketOriginals, "cropped_r.png")
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	})
}

func TestCompositeCropsInResizedSpace(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		ctx := context.Background()
		raw := gradientPNG(t, 640, 480)

		out, err := b.Composite(ctx, "c.png", raw, domain.Composite{
			Width: 50, Height: 50,
			Crop: domain.Rect{X: 0, Y: 0, Width: 50, Height: 50},
		})
		require.NoError(t, err)

		img := decodePNG(t, out)
		assert.Equal(t, image.Rect(0, 0, 50, 50), img.Bounds())
		c := nrgbaAt(img, 25, 25)
		assert.Equal(t, c.R, c.G)
		assert.Equal(t, c.G, c.B)

		persisted, err := store.Get(ctx, domain.BucketModified, "modified_c.png")
		require.NoError(t, err)
		assert.Equal(t, out, persisted)

		_, err = b.Composite(ctx, "c.png", raw, domain.Composite{
			Width: 50, Height: 50,
			Crop: domain.Rect{X: 0, Y: 0, Width: 60, Height: 50},
		})
		require.ErrorIs(t, err, domain.ErrGeometryOutOfBounds)

		_, err = b.Composite(ctx, "wrap.png", raw, domain.Composite{
			Width: 50, Height: 50,
			Crop: domain.Rect{X: math.MaxInt, Y: 0, Width: 5, Height: 5},
		})
		require.ErrorIs(t, err, domain.ErrGeometryOutOfBounds)
		_, err = store.Stat(ctx, domain.BucketModified, "modified_wrap.png")
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	})
}

func TestPixelBudget(t *testing.T) {
	opts := []Option{WithMaxPixels(10_000)}
	eachBackendWith(t, opts, func(t *testing.T, b Backend, store *storage.FileStore) {
		ctx := context.Background()
		put(t, store, "r.png", solidPNG(t, 40, 40, color.NRGBA{R: 255, A: 255}))

		out, err := b.Resize(ctx, "r.png", 100, 100)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 100, 100), decodePNG(t, out).Bounds())

		for _, size := range [][2]int{{101, 100}, {math.MaxInt, 1}, {1, math.MaxInt}, {100_000, 100_000}} {
			_, err := b.Resize(ctx, "r.png", size[0], size[1])
			require.ErrorIs(t, err, domain.ErrImageTooLarge, "%dx%d", size[0], size[1])
		}

		_, err = b.Composite(ctx, "r.png", solidPNG(t, 40, 40, color.NRGBA{A: 255}), domain.Composite{
			Width: math.MaxInt, Height: 2,
			Crop: domain.Rect{Width: 1, Height: 1},
		})
		require.ErrorIs(t, err, domain.ErrImageTooLarge)

		put(t, store, "wide.png", solidPNG(t, 200, 60, color.NRGBA{G: 255, A: 255}))
		_, err = b.Grayscale(ctx, "wide.png")
		require.ErrorIs(t, err, domain.ErrImageTooLarge)
		_, err = store.Stat(ctx, domain.BucketOriginals, "grayscale_wide.png")
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	})
}

func TestDefaultPixelBudget(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		put(t, store, "r.png", solidPNG(t, 10, 10, color.NRGBA{R: 255, A: 255}))

		_, err := b.Resize(context.Background(), "r.png", math.MaxInt, 1)
		require.ErrorIs(t, err, domain.ErrImageTooLarge)
	})
}

func TestCompositeDefaults(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, _ *storage.FileStore) {
		out, err := b.Composite(context.Background(), "d.png", gradientPNG(t, 80, 60), domain.DefaultComposite())
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 300, 300), decodePNG(t, out).Bounds())
	})
}

func TestCompositeRejectsBadInput(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, _ *storage.FileStore) {
		ctx := context.Background()

		_, err := b.Composite(ctx, "x.png", []byte("definitely not an image"), domain.DefaultComposite())
		assert.ErrorIs(t, err, domain.ErrDecodeFailure)

		_, err = b.Composite(ctx, "x.png", nil, domain.DefaultComposite())
		assert.ErrorIs(t, err, domain.ErrEmptyUpload)

		_, err = b.Composite(ctx, "../x.png", solidPNG(t, 4, 4, color.NRGBA{A: 255}), domain.DefaultComposite())
		assert.ErrorIs(t, err, domain.ErrInvalidAssetName)
	})
}

func TestTransformPersistsReturnedBytes(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		ctx := context.Background()
		put(t, store, "g.jpg", gradientPNG(t, 32, 32))

		checks := []struct {
			op      domain.Operation
			derived string
		}{
			{op: domain.Grayscale{}, derived: "grayscale_g.jpg"},
			{op: domain.Resize{Width: 16, Height: 8}, derived: "resized_g.jpg"},
			{op: domain.Crop{Rect: domain.Rect{X: 4, Y: 4, Width: 8, Height: 8}}, derived: "cropped_g.jpg"},
			{op: domain.Composite{Width: 20, Height: 20, Crop: domain.Rect{Width: 10, Height: 10}}, derived: "modified_g.jpg"},
		}
		for _, check := range checks {
			out, err := b.Apply(ctx, "g.jpg", check.op)
			require.NoError(t, err, check.op.Kind())
			assert.Equal(t, "png", domain.DetectFormat(out), check.op.Kind())

			bucket := domain.BucketOriginals
			if check.op.Kind() == domain.OperationComposite {
				bucket = domain.BucketModified
			}
			persisted, err := store.Get(ctx, bucket, check.derived)
			require.NoError(t, err, check.op.Kind())
			assert.Equal(t, out, persisted, check.op.Kind())
		}
	})
}

func TestMissingAndUndecodableAssets(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		ctx := context.Background()

		_, err := b.Grayscale(ctx, "missing.png")
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)

		_, err = b.Load(ctx, "missing.png")
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)

		put(t, store, "junk.png", []byte("not pixels"))
		_, err = b.Resize(ctx, "junk.png", 10, 10)
		assert.ErrorIs(t, err, domain.ErrDecodeFailure)

		_, err = b.Load(ctx, "junk.png")
		assert.ErrorIs(t, err, domain.ErrDecodeFailure)
	})
}

func TestLoadStoreRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, _ *storage.FileStore) {
		ctx := context.Background()
		src := splitImage(24, 12, color.NRGBA{R: 200, G: 10, B: 30, A: 255}, color.NRGBA{R: 5, G: 90, B: 250, A: 255})

		require.NoError(t, b.Store(ctx, src, "rt.png"))
		got, err := b.Load(ctx, "rt.png")
		require.NoError(t, err)

		require.Equal(t, 24, got.Bounds().Dx())
		require.Equal(t, 12, got.Bounds().Dy())
		origin := got.Bounds().Min
		assert.Equal(t, src.NRGBAAt(1, 1), nrgbaAt(got, origin.X+1, origin.Y+1))
		assert.Equal(t, src.NRGBAAt(20, 6), nrgbaAt(got, origin.X+20, origin.Y+6))
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		ctx := context.Background()
		require.NoError(t, b.Delete(ctx, "never-uploaded.png"))

		put(t, store, "r.png", solidPNG(t, 2, 2, color.NRGBA{A: 255}))
		require.NoError(t, b.Delete(ctx, "r.png"))
		require.NoError(t, b.Delete(ctx, "r.png"))

		_, err := store.Get(ctx, domain.BucketOriginals, "r.png")
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	})
}

func TestDiagnosticsUnimplemented(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, _ *storage.FileStore) {
		_, err := b.Diagnostics(context.Background())
		assert.ErrorIs(t, err, domain.ErrCapabilityUnimplemented)
	})
}

func TestCanceledContextStopsTransform(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend, store *storage.FileStore) {
		put(t, store, "r.png", solidPNG(t, 8, 8, color.NRGBA{R: 255, A: 255}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := b.Grayscale(ctx, "r.png")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func put(t *testing.T, store storage.Store, name string, data []byte) {
	t.Helper()
	_, err := store.Put(context.Background(), domain.BucketOriginals, name, data)
	require.NoError(t, err)
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func solidPNG(t testing.TB, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return encodePNG(t, img)
}

func splitImage(w, h int, left, right color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := left
			if x >= w/2 {
				c = right
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func splitPNG(t testing.TB, w, h int, left, right color.NRGBA) []byte {
	t.Helper()
	return encodePNG(t, splitImage(w, h, left, right))
}

func gradientPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	return encodePNG(t, gradientImage(w, h))
}

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}
