package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
)

// Remote asks the prompt endpoint for the row scheduled today.
type Remote struct {
	url    string
	client *http.Client
}

var _ ports.PromptSource = (*Remote)(nil)

type remotePrompt struct {
	ID         promptID `json:"id"`
	PromptText string   `json:"prompt_text"`
}

// promptID is opaque: servers send a row number or a date-derived string.
type promptID string

func (p *promptID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = promptID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("prompt id must be a number or a string, got %s", data)
	}
	*p = promptID(n.String())
	return nil
}

func NewRemote(url string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Remote{url: url, client: client}
}

func (r *Remote) Today(ctx context.Context) (state.Prompt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return state.Prompt{}, fmt.Errorf("build prompt request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return state.Prompt{}, ports.NewPortError("get_prompt", ports.CodeTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return state.Prompt{}, ErrPromptUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return state.Prompt{}, ports.NewPortError("get_prompt", ports.CodeUpstream, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return state.Prompt{}, ports.NewPortError("get_prompt", ports.CodeTransport, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return state.Prompt{}, ErrPromptUnavailable
	}

	var payload remotePrompt
	if err := json.Unmarshal(body, &payload); err != nil {
		return state.Prompt{}, ports.NewPortError("get_prompt", ports.CodeBadRequest, err)
	}
	if payload.ID == "" || strings.TrimSpace(payload.PromptText) == "" {
		return state.Prompt{}, ErrPromptUnavailable
	}
	return state.Prompt{ID: string(payload.ID), Text: payload.PromptText}, nil
}
