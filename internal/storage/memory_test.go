package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/ifocus/internal/models"
)

func TestMemoryStorage_Contract(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage { return NewMemoryStorage() })
}

func TestMemoryStorage_GetUserReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.CreateUser(ctx, models.User{UID: "alice", Name: "Alice", HelpingSubjects: []string{"Física"}}))

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	u.HelpingSubjects[0] = "Modified"

	original, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Física", original.HelpingSubjects[0], "GetUser should return a copy, not original data")
}

func TestMemoryStorage_ListMessagesReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.SaveMessage(ctx, models.Message{ID: "1", ChatID: "c", Timestamp: 1}))

	messages, err := store.ListMessages(ctx, "c", 10, 0)
	require.NoError(t, err)
	messages[0].SenderID = "Modified"

	latest, err := store.LatestMessage(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, latest.SenderID)
}

// TestMemoryStorage_ImplementsStorage はMemoryStorageがStorageインターフェースを実装していることを確認する
func TestMemoryStorage_ImplementsStorage(t *testing.T) {
	var _ Storage = (*MemoryStorage)(nil)
}
