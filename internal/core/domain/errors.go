package domain

import "errors"

var (
	ErrRunNotFound     = errors.New("acquisition run not found")
	ErrChannelNotFound = errors.New("channel not found")
)
