package transcode

import "errors"

// Stage identifies the pipeline step a conversion failed in.
type Stage string

const (
	StageDownload Stage = "download"
	StageProbe    Stage = "probe"
	StageEncode   Stage = "encode"
	StageUpload   Stage = "upload"
)

// StageError wraps a conversion failure with the step it occurred in. All
// stages are fatal to the current attempt; the job record goes to failed and
// a later processing request retries from scratch.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Reason returns the underlying failure message of a conversion error,
// without the stage prefix. Used as the job record's last_error.
func Reason(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}
