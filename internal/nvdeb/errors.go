package nvdeb

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Every pipeline stage wraps one of these sentinels so a
// run's final status can always name the failing stage and the root cause.
var (
	errUnsupportedArch    = errors.New("unsupported architecture")
	errProvisioningFailed = errors.New("provisioning failed")
	errDepBuildFailed     = errors.New("dependency build failed")
	errBuildFailed        = errors.New("build failed")
	errArchMismatch       = errors.New("architecture mismatch")
	errVersionUnresolved  = errors.New("version unresolved")
	errPublishFailed      = errors.New("publish failed")
)

// stageError tags an underlying error with the pipeline stage it came from.
type stageError struct {
	Stage string
	Err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *stageError) Unwrap() error { return e.Err }
