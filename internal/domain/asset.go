package domain

import (
	"strings"
	"time"
)

type Bucket string

const (
	BucketOriginals Bucket = "originals"
	BucketModified  Bucket = "modified"
)

const (
	PrefixGrayscale = "grayscale_"
	PrefixResized   = "resized_"
	PrefixCropped   = "cropped_"
	PrefixModified  = "modified_"
)

// Asset describes a stored image blob.
type Asset struct {
	Name       string    `json:"name"`
	Bucket     Bucket    `json:"bucket"`
	Format     string    `json:"format"`
	Size       int64     `json:"size"`
	Location   string    `json:"location"`
	ModifiedAt time.Time `json:"modified_at"`
}

// UploadResponse is returned to callers after a successful upload.
type UploadResponse struct {
	FileName   string    `json:"fileName"`
	FilePath   string    `json:"filePath"`
	UploadDate time.Time `json:"uploadDate"`
}

// DerivedName builds the name a transform result is stored under.
func DerivedName(prefix, source string) string {
	return prefix + source
}

// ValidateAssetName rejects names that are empty or would escape a bucket directory.
func ValidateAssetName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "", trimmed == ".", trimmed == "..":
		return ErrInvalidAssetName
	case trimmed != name:
		return ErrInvalidAssetName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidAssetName
	}
	return nil
}
