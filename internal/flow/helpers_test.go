package flow

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

func section(id string, t models.SectionType, title string, config string) models.Section {
	return models.Section{
		ID:            id,
		CampaignID:    "camp-1",
		Type:          t,
		Title:         title,
		Configuration: json.RawMessage(config),
		IsVisible:     true,
	}
}

type fakeCompleter struct {
	resp  *ai.CompletionResponse
	err   error
	calls atomic.Int32
	last  *ai.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResponse, error) {
	f.calls.Add(1)
	f.last = req
	return f.resp, f.err
}

type mapResolver map[string][]byte

func (m mapResolver) Resolve(ctx context.Context, fd vars.FileDescriptor) ([]byte, error) {
	data, ok := m[fd.URL]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return data, nil
}
