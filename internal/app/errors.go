package app

import (
	"errors"
	"fmt"
	"net/http"

	"canvas/api/internal/authpw"
	"canvas/api/internal/localdemo"
	"canvas/api/internal/repository"
	"canvas/api/internal/state"
	"canvas/api/internal/store"
)

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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var rbErr *state.RollbackError
	if errors.As(err, &rbErr) {
		status, code, _, _ := mapError(rbErr.Err)
		if status >= http.StatusInternalServerError {
			status, code = http.StatusBadGateway, "SYNC_FAILED"
		}
		return status, code, rbErr.Error(), map[string]any{
			"action":       rbErr.Action,
			"workspace_id": rbErr.WorkspaceID,
			"target_id":    rbErr.TargetID,
			"rolled_back":  true,
		}
	}

	var authErr *state.AuthError
	if errors.As(err, &authErr) {
		switch {
		case errors.Is(err, authpw.ErrEmailTaken):
			return http.StatusConflict, "EMAIL_TAKEN", authErr.Error(), nil
		case errors.Is(err, authpw.ErrMissingCredentials),
			errors.Is(err, authpw.ErrInvalidEmail),
			errors.Is(err, authpw.ErrWeakPassword),
			errors.Is(err, repository.ErrInvalidInput):
			return http.StatusUnprocessableEntity, "VALIDATION_ERROR", authErr.Error(), nil
		case errors.Is(err, authpw.ErrInvalidCredentials), errors.Is(err, authpw.ErrUserNotFound):
			return http.StatusUnauthorized, "INVALID_CREDENTIALS", authErr.Error(), nil
		}
		return http.StatusBadGateway, "AUTH_FAILED", authErr.Error(), nil
	}

	var profileErr *repository.ProfileCreationError
	if errors.As(err, &profileErr) {
		return http.StatusConflict, "HANDLE_TAKEN", profileErr.Error(), nil
	}

	switch {
	case errors.Is(err, state.ErrNotAuthenticated):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Sign in required", nil
	case errors.Is(err, state.ErrEmptyInput),
		errors.Is(err, state.ErrInvalidTheme),
		errors.Is(err, state.ErrNoAssistantMessage),
		errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, localdemo.ErrEmptyInput),
		errors.Is(err, localdemo.ErrInvalidEmail),
		errors.Is(err, localdemo.ErrInvalidTheme),
		errors.Is(err, localdemo.ErrUnknownIntegration),
		errors.Is(err, localdemo.ErrNoAssistantMessage):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, state.ErrUnknownTarget),
		errors.Is(err, localdemo.ErrCanvasNotFound),
		errors.Is(err, localdemo.ErrItemNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, state.ErrAlreadyMember), errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
