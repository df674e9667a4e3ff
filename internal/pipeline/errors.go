package pipeline

import (
	"errors"
	"fmt"

	"github.com/jimdaga/reelpipe/internal/store"
)

var (
	// ErrPrecondition matches every *PreconditionError
	ErrPrecondition = errors.New("precondition failed")
	// ErrNotFound matches every *NotFoundError
	ErrNotFound = errors.New("not found")
	// ErrAlreadyQueued is returned by an Enqueuer when the work item is
	// still sitting in the queue under the same key
	ErrAlreadyQueued = errors.New("work item already queued")
)

// Rule names the precondition that was violated
type Rule string

// Precondition rules
const (
	RuleAlreadyExists Rule = "already_exists"
	RuleInProgress    Rule = "in_progress"
	RuleNotReady      Rule = "not_ready"
	RuleNotFound      Rule = "not_found"
	RuleInvalid       Rule = "invalid"
	RuleImmutable     Rule = "immutable"
)

// Stage names used in errors, logs and metrics
const (
	StageDownload    = "download"
	StageSubtitle    = "subtitle"
	StageTranslate   = "translate"
	StageBurn        = "burn"
	StageWatermark   = "watermark"
	StageCopywriting = "copywriting"
	StageSearch      = "search"
	StageContent     = "content"
	StageProject     = "project"
)

// PreconditionError rejects a stage start before any record is written
type PreconditionError struct {
	Stage   string
	Rule    Rule
	Message string
	// ID of the record the rule concerns, when one exists
	ID string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Rule, e.Message)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

func precondition(stage string, rule Rule, format string, args ...interface{}) *PreconditionError {
	return &PreconditionError{Stage: stage, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// AdapterError wraps a failure reported by an external capability
type AdapterError struct {
	Stage string
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s adapter: %v", e.Stage, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an unknown identifier
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// notFound converts store.ErrNotFound into a *NotFoundError and passes any
// other error through unchanged.
func notFound(err error, entity string, id fmt.Stringer) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id.String()}
	}
	return err
}
