package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	RunStatusCreated   = "created"
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BenchmarkRequest asks for one operation to be timed across several backends.
type BenchmarkRequest struct {
	FileName   string        `json:"file_name" validate:"required"`
	Operation  OperationSpec `json:"operation"`
	Iterations int           `json:"iterations" validate:"min=1,max=1000"`
	Backends   []string      `json:"backends,omitempty" validate:"dive,required"`
	WebhookURL string        `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

type BenchmarkRun struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	FileName   string          `json:"file_name"`
	Operation  OperationSpec   `json:"operation"`
	Iterations int             `json:"iterations"`
	Backends   []string        `json:"backends"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	Results    []BackendResult `json:"results"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// BackendResult holds wall-clock timings for one backend within a run.
type BackendResult struct {
	Backend     string  `json:"backend"`
	Iterations  int     `json:"iterations"`
	TotalMS     float64 `json:"total_ms"`
	MeanMS      float64 `json:"mean_ms"`
	MinMS       float64 `json:"min_ms"`
	MaxMS       float64 `json:"max_ms"`
	OutputBytes int     `json:"output_bytes"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Error       string  `json:"error,omitempty"`
}

func (r BenchmarkRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", strings.ToLower(fe.Namespace()), fe.Tag())
		}
		return err
	}
	if err := ValidateAssetName(r.FileName); err != nil {
		return fmt.Errorf("file_name: %w", err)
	}
	if _, err := r.Operation.Operation(); err != nil {
		return err
	}
	return nil
}
