package task

import "errors"

var (
	ErrNoItems       = errors.New("no items provided")
	ErrDuplicateItem = errors.New("duplicate item in submission")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskFinished  = errors.New("task already finished")
)
