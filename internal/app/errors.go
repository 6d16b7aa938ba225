package app

import (
	"errors"
	"fmt"
)

// ErrEmptyContent rejects entries whose content is blank after trimming.
var ErrEmptyContent = errors.New("entry content is empty")

// ErrLoadInProgress signals that a collection reload is already running.
var ErrLoadInProgress = errors.New("thread load already in progress")

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
