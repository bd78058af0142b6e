package nl2sql

import (
	"context"
	"errors"
)

var errMissingCredential = errors.New("no API key configured or supplied")

// CompletionRequest is one system + user prompt exchange.
type CompletionRequest struct {
	Credential string
	System     string
	Prompt     string
}

// Completer is a text-completion provider.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Provider() string
	Model() string
}

func pickCredential(requested, configured string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if configured != "" {
		return configured, nil
	}
	return "", errMissingCredential
}
