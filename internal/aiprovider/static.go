package aiprovider

import (
	"context"
	"fmt"
)

// Static returns a fixed placeholder for local development without an
// inference backend.
type Static struct{}

func (Static) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{
		Content:    fmt.Sprintf("[%s] draft generated for: %s", req.ActionType, req.Prompt),
		TokensUsed: estimateTokens(req.ACUs),
	}, nil
}
