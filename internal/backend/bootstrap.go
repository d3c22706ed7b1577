package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/matbrandao/chatsync/internal/model"
)

// FetchBootstrap retrieves the full chat snapshot (chats with messages
// and status rows) used to seed the store on startup. Participant
// filtering happens in the store, not here.
func (c *Client) FetchBootstrap(ctx context.Context) ([]*model.Chat, error) {
	env, err := c.do(ctx, http.MethodGet, "/chats?include=messages,status", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch chats: %w", err)
	}

	var recs []chatRecord
	if err := json.Unmarshal(env.Data, &recs); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}

	chats := make([]*model.Chat, 0, len(recs))
	for i := range recs {
		chats = append(chats, recs[i].toModel())
	}
	return chats, nil
}

// FetchLabels retrieves the global label catalog.
func (c *Client) FetchLabels(ctx context.Context) ([]model.Label, error) {
	env, err := c.do(ctx, http.MethodGet, "/labels", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch labels: %w", err)
	}

	var recs []labelRecord
	if err := json.Unmarshal(env.Data, &recs); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}

	labels := make([]model.Label, 0, len(recs))
	for _, r := range recs {
		labels = append(labels, model.Label{ID: r.ID, Name: r.Name, Color: r.Color})
	}
	return labels, nil
}
