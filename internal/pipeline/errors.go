package pipeline

import (
	"fmt"

	"github.com/innovotech/mediadrop/internal/model"
)

// Pipeline stages, used in StageError and metrics labels.
const (
	StageGenerate = "generate"
	StageDrain    = "drain"
	StageFetch    = "fetch"
	StageEdit     = "edit"
	StageUpload   = "upload"
	StageDeliver  = "deliver"
	StagePanic    = "panic"
)

// StageError records which artifact pipeline failed and at which stage.
type StageError struct {
	Artifact model.ArtifactKind
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Artifact, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(kind model.ArtifactKind, stage string, err error) error {
	return &StageError{Artifact: kind, Stage: stage, Err: err}
}
