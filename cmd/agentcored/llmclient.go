package main

import (
	"context"
	"fmt"

	"github.com/lhwzds/agentcore/internal/chatmsg"
	"github.com/lhwzds/agentcore/internal/contextmgr"
	"github.com/lhwzds/agentcore/internal/llm"
)

// unconfiguredClient satisfies llm.Client so the runtime links and its
// storage/scheduler/file-tool wiring can be exercised without a model
// backend. Every call fails with a clear configuration error; an
// embedder replaces this with a real provider client before pointing the
// runner at live work.
type unconfiguredClient struct {
	provider string
}

func (c unconfiguredClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, c.err()
}

func (c unconfiguredClient) CompleteStream(ctx context.Context, req llm.Request, cb llm.StreamCallback) (llm.Response, error) {
	return llm.Response{}, c.err()
}

func (c unconfiguredClient) SupportsStreaming() bool { return false }

func (c unconfiguredClient) err() error {
	if c.provider == "" {
		return fmt.Errorf("no llm provider configured: set llm.provider and llm.api_key, or wire a real llm.Client in place of the bootstrap placeholder")
	}
	return fmt.Errorf("llm provider %q is not implemented by this runtime; wire a real llm.Client in place of the bootstrap placeholder", c.provider)
}

// summarizerFor builds a contextmgr.Summarizer that forwards to client.
// Compaction is a no-op failure (logged, not fatal) until a real client
// replaces the bootstrap placeholder.
func summarizerFor(client llm.Client) contextmgr.Summarizer {
	return func(ctx context.Context, systemPrompt, transcript string) (string, error) {
		resp, err := client.Complete(ctx, llm.Request{
			Messages: []chatmsg.Message{
				{Role: chatmsg.RoleSystem, Content: systemPrompt},
				{Role: chatmsg.RoleUser, Content: transcript},
			},
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}
