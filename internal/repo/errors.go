package repo

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrMeetingConflict = errors.New("consultant already has a meeting in that interval")
	ErrStageInUse      = errors.New("stage has leads")
	ErrAlreadyCaptured = errors.New("gate session already produced a lead")
)
