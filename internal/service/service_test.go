package service

import (
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/ifocus/internal/auth"
	"github.com/tasukuchiba/ifocus/internal/blob"
	"github.com/tasukuchiba/ifocus/internal/cache"
	"github.com/tasukuchiba/ifocus/internal/models"
	"github.com/tasukuchiba/ifocus/internal/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type fixture struct {
	store   *storage.MemoryStorage
	blobs   *blob.BadgerStore
	cache   *cache.MemoryCache
	issuer  *auth.TokenIssuer
	users   *UserService
	catalog *CatalogService
	chats   *ChatService
	auth    *AuthService
	pub     *recordingPublisher
}

type recordingPublisher struct {
	messages []models.Message
}

func (p *recordingPublisher) Publish(msg models.Message) {
	p.messages = append(p.messages, msg)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := storage.NewMemoryStorage()
	blobs, err := blob.Open("", "http://localhost:8000", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	c := cache.NewMemoryCache()
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	pub := &recordingPublisher{}
	return &fixture{
		store:   store,
		blobs:   blobs,
		cache:   c,
		issuer:  issuer,
		users:   NewUserService(store, blobs, log),
		catalog: NewCatalogService(store, c, time.Minute, log),
		chats:   NewChatService(store, blobs, pub, log),
		auth:    NewAuthService(store, issuer, log),
		pub:     pub,
	}
}
