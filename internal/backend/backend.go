package backend

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/dunamismax/imagebench/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Backend is the contract every processing variant satisfies. Transform
// methods persist their result and return exactly the bytes that were stored.
type Backend interface {
	Name() string
	Load(ctx context.Context, name string) (image.Image, error)
	Store(ctx context.Context, img image.Image, name string) error
	Grayscale(ctx context.Context, name string) ([]byte, error)
	Resize(ctx context.Context, name string, width, height int) ([]byte, error)
	Crop(ctx context.Context, name string, rect domain.Rect) ([]byte, error)
	Composite(ctx context.Context, name string, raw []byte, op domain.Composite) ([]byte, error)
	Apply(ctx context.Context, name string, op domain.Operation) ([]byte, error)
	Delete(ctx context.Context, name string) error
	Diagnostics(ctx context.Context) (string, error)
}

type engineBackend[B any] struct {
	engine    Engine[B]
	store     storage.Store
	tracer    trace.Tracer
	maxPixels int64
}

type options struct {
	maxPixels int64
}

// Option tunes every Backend built by New or NewRegistry.
type Option func(*options)

// WithMaxPixels bounds the pixel count of decoded sources and resize targets.
// Requests over the budget fail with domain.ErrImageTooLarge before any
// buffer is allocated. Non-positive values select domain.DefaultMaxPixels.
func WithMaxPixels(n int64) Option {
	return func(o *options) { o.maxPixels = n }
}

// New builds a Backend around engine, persisting through store.
func New[B any](engine Engine[B], store storage.Store, opts ...Option) Backend {
	o := options{maxPixels: domain.DefaultMaxPixels}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxPixels <= 0 {
		o.maxPixels = domain.DefaultMaxPixels
	}
	return &engineBackend[B]{
		engine:    engine,
		store:     store,
		tracer:    otel.Tracer("imagebench/backend"),
		maxPixels: o.maxPixels,
	}
}

func (b *engineBackend[B]) Name() string {
	return b.engine.Name()
}

func (b *engineBackend[B]) Load(ctx context.Context, name string) (image.Image, error) {
	buf, err := b.load(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.engine.Release(buf)

	img, err := b.engine.ToImage(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: export %s: %w", b.Name(), name, err)
	}
	return img, nil
}

func (b *engineBackend[B]) Store(ctx context.Context, img image.Image, name string) error {
	if err := domain.ValidateAssetName(name); err != nil {
		return err
	}
	buf, err := b.engine.FromImage(img)
	if err != nil {
		return fmt.Errorf("%s: import %s: %w", b.Name(), name, err)
	}
	defer b.engine.Release(buf)

	_, err = b.persist(ctx, buf, domain.BucketOriginals, name)
	return err
}

func (b *engineBackend[B]) Grayscale(ctx context.Context, name string) ([]byte, error) {
	return b.transform(ctx, domain.Grayscale{}, name, func(buf B) (B, error) {
		return b.engine.Grayscale(buf)
	})
}

func (b *engineBackend[B]) Resize(ctx context.Context, name string, width, height int) ([]byte, error) {
	op := domain.Resize{Width: domain.ClampDimension(width), Height: domain.ClampDimension(height)}
	return b.transform(ctx, op, name, func(buf B) (B, error) {
		return b.resize(buf, op.Width, op.Height)
	})
}

func (b *engineBackend[B]) Crop(ctx context.Context, name string, rect domain.Rect) ([]byte, error) {
	rect = rect.Normalize()
	return b.transform(ctx, domain.Crop{Rect: rect}, name, func(buf B) (B, error) {
		return b.crop(buf, rect)
	})
}

// Composite decodes raw and always runs grayscale, resize and crop in that
// order. The crop rectangle is checked against the resized canvas.
func (b *engineBackend[B]) Composite(ctx context.Context, name string, raw []byte, op domain.Composite) (out []byte, err error) {
	ctx, span := b.start(ctx, op, name)
	defer func() { finish(span, err) }()

	if err := domain.ValidateAssetName(name); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.ErrEmptyUpload
	}
	width, height := domain.ClampDimension(op.Width), domain.ClampDimension(op.Height)
	if err := domain.CheckPixels(width, height, b.maxPixels); err != nil {
		return nil, err
	}

	buf, err := b.decode(raw, name)
	if err != nil {
		return nil, err
	}
	defer func() { b.engine.Release(buf) }()

	rect := op.Crop.Normalize()
	stages := []func(B) (B, error){
		b.engine.Grayscale,
		func(in B) (B, error) { return b.resize(in, width, height) },
		func(in B) (B, error) { return b.crop(in, rect) },
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := stage(buf)
		if err != nil {
			return nil, err
		}
		buf = next
	}

	return b.persist(ctx, buf, domain.BucketModified, domain.DerivedName(domain.PrefixModified, name))
}

// Apply dispatches op by kind. Composite reads its input from the stored original.
func (b *engineBackend[B]) Apply(ctx context.Context, name string, op domain.Operation) ([]byte, error) {
	switch op := op.(type) {
	case domain.Grayscale:
		return b.Grayscale(ctx, name)
	case domain.Resize:
		return b.Resize(ctx, name, op.Width, op.Height)
	case domain.Crop:
		return b.Crop(ctx, name, op.Rect)
	case domain.Composite:
		if err := domain.ValidateAssetName(name); err != nil {
			return nil, err
		}
		raw, err := b.store.Get(ctx, domain.BucketOriginals, name)
		if err != nil {
			return nil, err
		}
		return b.Composite(ctx, name, raw, op)
	default:
		return nil, fmt.Errorf("%s: unsupported operation %T", b.Name(), op)
	}
}

func (b *engineBackend[B]) Delete(ctx context.Context, name string) error {
	if err := domain.ValidateAssetName(name); err != nil {
		return err
	}
	return b.store.Delete(ctx, domain.BucketOriginals, name)
}

func (b *engineBackend[B]) Diagnostics(context.Context) (string, error) {
	return "", fmt.Errorf("%w: %s backend has no diagnostic routine", domain.ErrCapabilityUnimplemented, b.Name())
}

func (b *engineBackend[B]) transform(ctx context.Context, op domain.Operation, name string, fn func(B) (B, error)) (out []byte, err error) {
	ctx, span := b.start(ctx, op, name)
	defer func() { finish(span, err) }()

	buf, err := b.load(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { b.engine.Release(buf) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next, err := fn(buf)
	if err != nil {
		return nil, err
	}
	buf = next

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.persist(ctx, buf, domain.BucketOriginals, domain.DerivedName(domain.DerivedPrefix(op), name))
}

func (b *engineBackend[B]) resize(buf B, width, height int) (B, error) {
	if err := domain.CheckPixels(width, height, b.maxPixels); err != nil {
		return buf, err
	}
	return b.engine.Resize(buf, width, height)
}

func (b *engineBackend[B]) crop(buf B, rect domain.Rect) (B, error) {
	width, height := b.engine.Size(buf)
	if err := rect.Within(width, height); err != nil {
		return buf, err
	}
	return b.engine.Crop(buf, rect)
}

func (b *engineBackend[B]) load(ctx context.Context, name string) (B, error) {
	var zero B
	if err := domain.ValidateAssetName(name); err != nil {
		return zero, err
	}
	data, err := b.store.Get(ctx, domain.BucketOriginals, name)
	if err != nil {
		return zero, err
	}
	return b.decode(data, name)
}

// decode sniffs the header first so that an oversized source is refused
// before the engine allocates for it. Formats without a registered Go
// decoder are left to the engine.
func (b *engineBackend[B]) decode(data []byte, name string) (B, error) {
	var zero B
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if err := domain.CheckPixels(cfg.Width, cfg.Height, b.maxPixels); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
	}
	buf, err := b.engine.Decode(data)
	if err != nil {
		return zero, fmt.Errorf("%w: %s could not decode %s: %v", domain.ErrDecodeFailure, b.Name(), name, err)
	}
	return buf, nil
}

func (b *engineBackend[B]) persist(ctx context.Context, buf B, bucket domain.Bucket, name string) ([]byte, error) {
	data, err := b.engine.Encode(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if _, err := b.store.Put(ctx, bucket, name, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (b *engineBackend[B]) start(ctx context.Context, op domain.Operation, name string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "backend."+op.Kind(), trace.WithAttributes(
		attribute.String("backend.name", b.Name()),
		attribute.String("backend.operation", op.Kind()),
		attribute.String("asset.name", name),
	))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
