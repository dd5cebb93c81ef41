package client

import (
	"time"

	"github.com/chatsync-io/chatsync/internal/types"
)

// placeholderDataset is the canned data served when the backend is
// unreachable and the fallback flag is set. Every entry is labelled so
// it can never be mistaken for real data, and the conversations are
// marked Placeholder so the store confirms sends locally instead of
// dispatching them.
func placeholderDataset() ([]types.Conversation, map[string][]types.Message) {
	now := time.Now().UTC().Round(time.Millisecond)

	convs := []types.Conversation{
		{
			Id:                 "placeholder-1",
			ParticipantIds:     []int{0},
			LastMessageAt:      now.Add(-time.Minute),
			LastMessagePreview: "Placeholder: service unavailable",
			Placeholder:        true,
			CreatedAt:          now.Add(-time.Hour),
			UpdatedAt:          now.Add(-time.Minute),
		},
		{
			Id:                 "placeholder-2",
			ParticipantIds:     []int{0},
			LastMessageAt:      now.Add(-2 * time.Minute),
			LastMessagePreview: "Placeholder: cached example conversation",
			Placeholder:        true,
			CreatedAt:          now.Add(-2 * time.Hour),
			UpdatedAt:          now.Add(-2 * time.Minute),
		},
	}

	messages := map[string][]types.Message{
		"placeholder-1": {
			{
				Id:             "placeholder-1-a",
				ConversationId: "placeholder-1",
				SenderId:       0,
				Content:        "Placeholder: the server could not be reached. Messages sent here are not delivered.",
				CreatedAt:      now.Add(-time.Minute),
				DeliveryState:  types.DeliveryConfirmed,
			},
		},
		"placeholder-2": {
			{
				Id:             "placeholder-2-a",
				ConversationId: "placeholder-2",
				SenderId:       0,
				Content:        "Placeholder: example conversation shown while offline.",
				CreatedAt:      now.Add(-2 * time.Minute),
				DeliveryState:  types.DeliveryConfirmed,
			},
		},
	}

	return convs, messages
}
