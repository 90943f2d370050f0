package integration

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/model"
	"ai-ragchat-be/internal/repository/specification"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/pkg/database"
	"ai-ragchat-be/pkg/vectorstore"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Conversation{}, &model.ChatMessage{}, &model.Document{}))
	return db
}

func TestGormConversationLifecycle(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	uowFactory := unitofwork.NewRepositoryFactory(db)

	userId := uuid.New()
	conv := &entity.Conversation{Id: uuid.New(), UserId: userId, CreatedAt: time.Now()}

	uow := uowFactory.NewUnitOfWork(ctx)
	require.NoError(t, uow.ConversationRepository().Create(ctx, conv))
	t.Cleanup(func() {
		_ = uow.ChatMessageRepository().DeleteByConversationId(ctx, conv.Id)
		_ = uow.ConversationRepository().Delete(ctx, conv.Id)
	})

	t.Run("Messages keep append order", func(t *testing.T) {
		for i, content := range []string{"first", "second", "third"} {
			id, err := uuid.NewV7()
			require.NoError(t, err)
			role := entity.ChatMessageRoleUser
			if i%2 == 1 {
				role = entity.ChatMessageRoleAssistant
			}
			require.NoError(t, uow.ChatMessageRepository().Create(ctx, &entity.ChatMessage{
				Id:             id,
				ConversationId: conv.Id,
				Role:           role,
				Content:        content,
				CreatedAt:      time.Now(),
			}))
		}

		msgs, err := uow.ChatMessageRepository().FindAll(ctx,
			specification.ByConversationID{ConversationID: conv.Id},
			specification.OrderBy{Field: "created_at"},
			specification.OrderBy{Field: "id"},
		)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "first", msgs[0].Content)
		assert.Equal(t, "third", msgs[2].Content)
	})

	t.Run("Ownership filter hides other users", func(t *testing.T) {
		found, err := uow.ConversationRepository().FindOne(ctx,
			specification.ByID{ID: conv.Id},
			specification.UserOwnedBy{UserID: uuid.New()},
		)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("Rollback discards writes", func(t *testing.T) {
		tx := uowFactory.NewUnitOfWork(ctx)
		require.NoError(t, tx.Begin(ctx))
		other := &entity.Conversation{Id: uuid.New(), UserId: userId, CreatedAt: time.Now()}
		require.NoError(t, tx.ConversationRepository().Create(ctx, other))
		require.NoError(t, tx.Rollback())

		found, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: other.Id})
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestPgVectorIndex(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	idx, err := vectorstore.NewPgVectorIndex(ctx, db, 3)
	if err != nil {
		t.Skipf("pgvector unavailable: %v", err)
	}

	docID := "it-" + uuid.NewString()
	t.Cleanup(func() { _ = idx.DeleteBySource(ctx, docID) })

	require.NoError(t, idx.Insert(ctx, []vectorstore.Record{
		{ID: docID + "_0", Vector: []float32{1, 0, 0}, Metadata: map[string]interface{}{vectorstore.MetaDocumentID: docID, vectorstore.MetaContent: "x axis"}},
		{ID: docID + "_1", Vector: []float32{0, 1, 0}, Metadata: map[string]interface{}{vectorstore.MetaDocumentID: docID, vectorstore.MetaContent: "y axis"}},
	}))

	matches, err := idx.Query(ctx, []float32{0.9, 0.1, 0}, 10)
	require.NoError(t, err)

	var ours []vectorstore.Match
	for _, m := range matches {
		if m.Metadata[vectorstore.MetaDocumentID] == docID {
			ours = append(ours, m)
		}
	}
	require.Len(t, ours, 2)
	assert.Equal(t, docID+"_0", ours[0].ID)
	assert.Greater(t, ours[0].Score, ours[1].Score)
}
