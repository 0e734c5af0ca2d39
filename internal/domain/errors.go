package domain

import "errors"

var (
	ErrAssetNotFound           = errors.New("asset not found")
	ErrDecodeFailure           = errors.New("decode failure")
	ErrGeometryOutOfBounds     = errors.New("geometry out of bounds")
	ErrCapabilityUnimplemented = errors.New("capability not implemented")
	ErrEmptyUpload             = errors.New("no file uploaded")
	ErrInvalidAssetName        = errors.New("invalid asset name")
	ErrImageTooLarge           = errors.New("image exceeds pixel budget")
)
