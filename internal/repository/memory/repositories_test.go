package memory

import (
	"context"
	"testing"
	"time"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessageRepository_RecentWindow(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewChatMessageRepository(store)

	conv, other := uuid.New(), uuid.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &entity.ChatMessage{
			ConversationId: conv,
			Role:           entity.ChatMessageRoleUser,
			Content:        string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Create(ctx, &entity.ChatMessage{ConversationId: other, Role: entity.ChatMessageRoleUser, Content: "x", CreatedAt: base}))

	got, err := repo.FindAll(ctx,
		specification.ByConversationID{ConversationID: conv},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: 3},
	)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{got[0].Content, got[1].Content, got[2].Content})

	count, err := repo.Count(ctx, specification.ByConversationID{ConversationID: conv})
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	require.NoError(t, repo.DeleteByConversationId(ctx, conv))
	count, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestConversationRepository_OwnerFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(NewStore())

	alice, bob := uuid.New(), uuid.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, owner := range []uuid.UUID{alice, bob, alice} {
		require.NoError(t, repo.Create(ctx, &entity.Conversation{UserId: owner, Title: "t", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	list, err := repo.FindAll(ctx, specification.UserOwnedBy{UserID: alice}, specification.OrderBy{Field: "created_at", Desc: true})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	missing, err := repo.FindOne(ctx, specification.ByID{ID: uuid.New()})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDocumentRepository_SaveKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(NewStore())

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, &entity.Document{Id: "doc-1", Content: "v1", CreatedAt: created}))
	require.NoError(t, repo.Save(ctx, &entity.Document{Id: "doc-1", Content: "v2"}))

	doc, err := repo.FindOne(ctx, specification.ByKey{Key: "doc-1"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "v2", doc.Content)
	assert.Equal(t, created, doc.CreatedAt)
}

type unsupportedSpec struct{ specification.ByID }

func TestApply_RejectsUnknownSpecification(t *testing.T) {
	repo := NewConversationRepository(NewStore())
	_, err := repo.FindAll(context.Background(), unsupportedSpec{})
	assert.Error(t, err)
}

func TestUnitOfWork_RollbackUndoesWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	factory := NewRepositoryFactory(store)

	kept := &entity.Conversation{UserId: uuid.New(), Title: "kept"}
	require.NoError(t, NewConversationRepository(store).Create(ctx, kept))
	require.NoError(t, NewDocumentRepository(store).Save(ctx, &entity.Document{Id: "doc-1", Content: "v1"}))

	uow := factory.NewUnitOfWork(ctx)
	require.NoError(t, uow.Begin(ctx))

	fresh := &entity.Conversation{UserId: uuid.New()}
	require.NoError(t, uow.ConversationRepository().Create(ctx, fresh))
	kept.Title = "renamed"
	require.NoError(t, uow.ConversationRepository().Update(ctx, kept))
	require.NoError(t, uow.ChatMessageRepository().Create(ctx, &entity.ChatMessage{ConversationId: kept.Id, Role: entity.ChatMessageRoleUser, Content: "hi"}))
	require.NoError(t, uow.DocumentRepository().Save(ctx, &entity.Document{Id: "doc-1", Content: "v2"}))
	require.NoError(t, uow.DocumentRepository().Delete(ctx, "doc-1"))

	require.NoError(t, uow.Rollback())

	convs := NewConversationRepository(store)
	gone, err := convs.FindOne(ctx, specification.ByID{ID: fresh.Id})
	require.NoError(t, err)
	assert.Nil(t, gone)

	back, err := convs.FindOne(ctx, specification.ByID{ID: kept.Id})
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, "kept", back.Title)
	assert.Nil(t, back.UpdatedAt)

	count, err := NewChatMessageRepository(store).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	doc, err := NewDocumentRepository(store).FindOne(ctx, specification.ByKey{Key: "doc-1"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "v1", doc.Content)
}

func TestUnitOfWork_CommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	uow := NewRepositoryFactory(store).NewUnitOfWork(ctx)

	require.NoError(t, uow.Begin(ctx))
	require.Error(t, uow.Begin(ctx))
	conv := &entity.Conversation{UserId: uuid.New()}
	require.NoError(t, uow.ConversationRepository().Create(ctx, conv))
	require.NoError(t, uow.Commit())
	require.NoError(t, uow.Rollback())

	found, err := NewConversationRepository(store).FindOne(ctx, specification.ByID{ID: conv.Id})
	require.NoError(t, err)
	assert.NotNil(t, found)
}
