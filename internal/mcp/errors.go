// Package mcp is the agent-integration front end: an MCP server over
// stdio exposing search_code, search_docs, and index_status tools plus
// a chunk resource surface, all answered from pinned snapshot views.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ggreperrors "github.com/ggrep/ggrep/internal/errors"
)

// JSON-RPC error codes: the -3200x block is ours, the -326xx block is
// the protocol's standard set.
const (
	ErrCodeIndexNotFound   = -32001
	ErrCodeEmbeddingFailed = -32002
	ErrCodeTimeout         = -32003
	ErrCodeFileNotFound    = -32004
	ErrCodeFileTooLarge    = -32005

	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinels the handlers return internally; MapError translates them
// onto the wire codes above.
var (
	ErrIndexNotFound    = errors.New("index not found")
	ErrEmbeddingFailed  = errors.New("embedding generation failed")
	ErrFileTooLarge     = errors.New("file too large")
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidParams    = errors.New("invalid parameters")
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError is the wire-visible error shape.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError is the single translation point from internal errors to
// wire errors: structured GgrepErrors map by category/code, sentinels
// and context errors map directly, and anything unrecognized
// collapses to a generic internal error so no internal detail leaks.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var gerr *ggreperrors.GgrepError
	if errors.As(err, &gerr) {
		return mapGgrepError(gerr)
	}

	switch {
	case errors.Is(err, ErrIndexNotFound):
		return &MCPError{
			Code:    ErrCodeIndexNotFound,
			Message: "Index not found. Run 'ggrep index' first.",
		}
	case errors.Is(err, ErrEmbeddingFailed):
		return &MCPError{
			Code:    ErrCodeEmbeddingFailed,
			Message: "Embedding generation failed.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrFileTooLarge):
		return &MCPError{
			Code:    ErrCodeFileTooLarge,
			Message: "File is too large to process.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid parameters.",
		}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Resource not found.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError carries a caller-authored message for a
// malformed request.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError names the unknown tool in the message.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError names the unknown resource URI.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// mapGgrepError folds a structured error's suggestion into the wire
// message and picks the code by category.
func mapGgrepError(ae *ggreperrors.GgrepError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}

	switch ae.Category {
	case ggreperrors.CategoryConfig:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: message,
		}
	case ggreperrors.CategoryIO:
		switch ae.Code {
		case ggreperrors.ErrCodeFileNotFound:
			return &MCPError{
				Code:    ErrCodeFileNotFound,
				Message: message,
			}
		case ggreperrors.ErrCodeFileTooLarge:
			return &MCPError{
				Code:    ErrCodeFileTooLarge,
				Message: message,
			}
		case ggreperrors.ErrCodeCorruptIndex:
			return &MCPError{
				Code:    ErrCodeIndexNotFound,
				Message: message,
			}
		default:
			return &MCPError{
				Code:    ErrCodeInternalError,
				Message: message,
			}
		}
	case ggreperrors.CategoryNetwork:
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: message,
		}
	case ggreperrors.CategoryValidation:
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: message,
		}
	default: // CategoryInternal and unknown
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: message,
		}
	}
}
