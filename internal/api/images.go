package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dunamismax/imagebench/internal/backend"
	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var errBadParameter = errors.New("invalid parameter")

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	asset, err := s.assets.Put(r.Context(), domain.BucketOriginals, name, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.Info("asset uploaded",
		zap.String("file_name", asset.Name),
		zap.Int64("bytes", asset.Size),
		zap.String("format", asset.Format),
	)
	writeJSON(w, http.StatusOK, domain.UploadResponse{
		FileName:   asset.Name,
		FilePath:   asset.Location,
		UploadDate: asset.ModifiedAt,
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "fileName")
	if err := domain.ValidateAssetName(name); err != nil {
		s.fail(w, r, err)
		return
	}

	data, err := s.assets.Get(r.Context(), domain.BucketOriginals, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeImage(w, data)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	b, err := s.backendFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := b.Delete(r.Context(), chi.URLParam(r, "fileName")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	b, err := s.backendFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := b.Diagnostics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"backend": b.Name(), "report": report})
}

func (s *Server) handleGrayscale(w http.ResponseWriter, r *http.Request) {
	s.serveTransform(w, r, domain.Grayscale{})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width, err := intParam(q.Get("width"), "width", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	height, err := intParam(q.Get("height"), "height", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.serveTransform(w, r, domain.Resize{Width: width, Height: height})
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var rect domain.Rect
	q := r.URL.Query()
	for _, p := range []struct {
		key string
		dst *int
	}{
		{"x", &rect.X},
		{"y", &rect.Y},
		{"width", &rect.Width},
		{"height", &rect.Height},
	} {
		v, err := intParam(q.Get(p.key), p.key, 0)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		*p.dst = v
	}
	s.serveTransform(w, r, domain.Crop{Rect: rect})
}

// handleComposite takes the image as an upload rather than a stored name.
func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	b, err := s.backendFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	name, raw, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	op := domain.DefaultComposite()
	for _, p := range []struct {
		key string
		dst *int
	}{
		{"width", &op.Width},
		{"height", &op.Height},
		{"x", &op.Crop.X},
		{"y", &op.Crop.Y},
		{"cropWidth", &op.Crop.Width},
		{"cropHeight", &op.Crop.Height},
	} {
		v, err := intParam(r.FormValue(p.key), p.key, *p.dst)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		*p.dst = v
	}

	start := s.now()
	out, err := b.Composite(r.Context(), name, raw, op)
	s.metrics.observeTransform(b.Name(), op.Kind(), err, s.now().Sub(start))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set(HeaderBackend, b.Name())
	writeImage(w, out)
}

func (s *Server) serveTransform(w http.ResponseWriter, r *http.Request, op domain.Operation) {
	b, err := s.backendFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	start := s.now()
	out, err := b.Apply(r.Context(), chi.URLParam(r, "fileName"), op)
	s.metrics.observeTransform(b.Name(), op.Kind(), err, s.now().Sub(start))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set(HeaderBackend, b.Name())
	writeImage(w, out)
}

func (s *Server) backendFor(r *http.Request) (backend.Backend, error) {
	name := r.URL.Query().Get("backend")
	if name == "" {
		name = r.Header.Get(HeaderBackend)
	}
	return s.backends.Get(name)
}

// readUpload returns the multipart "file" part. The stored name is the base
// of the client supplied file name.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, err
		}
		return "", nil, domain.ErrEmptyUpload
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, domain.ErrEmptyUpload
	}
	defer file.Close()

	if header.Size == 0 {
		return "", nil, domain.ErrEmptyUpload
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", nil, domain.ErrEmptyUpload
	}

	name := filepath.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if err := domain.ValidateAssetName(name); err != nil {
		return "", nil, err
	}
	return name, data, nil
}

// intParam parses an optional integer. Absent values yield fallback.
func intParam(raw, key string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", errBadParameter, key, raw)
	}
	return v, nil
}

func writeImage(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", domain.ContentTypeForFormat(domain.DetectFormat(data)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
