package model

import "errors"

// Write rejections. Set wraps these with the column name.
var (
	ErrReadOnly        = errors.New("model is read-only")
	ErrDeleteFlagged   = errors.New("model is flagged for delete")
	ErrProtectedColumn = errors.New("column is protected")
	ErrUnknownColumn   = errors.New("unknown column")
)
