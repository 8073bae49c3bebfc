package scheduler

import "errors"

var (
	ErrUnknownState = errors.New("evaluation state cannot be resolved")
	ErrNotInQueue   = errors.New("evaluation is not in queue")
)
