package ragstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/repository/contract"
	"ai-ragchat-be/internal/repository/memory"
	"ai-ragchat-be/internal/repository/specification"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/rag/history"
	"ai-ragchat-be/pkg/rag/ingest"
	"ai-ragchat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStore_RecentOldestFirst(t *testing.T) {
	ctx := context.Background()
	factory := memory.NewRepositoryFactory(memory.NewStore())
	store := NewHistoryStore(factory)
	conv := seedConversation(t, factory, "")

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three", "four"} {
		id, err := uuid.NewV7()
		require.NoError(t, err)
		msg := &history.Message{
			ID:             id.String(),
			ConversationID: conv,
			Role:           history.RoleUser,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if i == 3 {
			msg.Role = history.RoleAssistant
			msg.Context = []retrieval.ContextResult{{Content: "c", DocumentID: "d", SimilarityScore: 0.9}}
		}
		require.NoError(t, store.AppendMessages(ctx, []*history.Message{msg}))
	}

	got, err := store.RecentMessages(ctx, conv, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "three", got[0].Content)
	assert.Equal(t, "four", got[1].Content)
	require.Len(t, got[1].Context, 1)
	assert.Equal(t, "d", got[1].Context[0].DocumentID)
}

func TestHistoryStore_RejectsBadConversationID(t *testing.T) {
	store := NewHistoryStore(memory.NewRepositoryFactory(memory.NewStore()))
	err := store.AppendMessages(context.Background(), []*history.Message{{
		ID: uuid.NewString(), ConversationID: "not-a-uuid", Role: history.RoleUser, Content: "x",
	}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPermanent, apperr.KindOf(err))

	msgs, err := store.RecentMessages(context.Background(), "not-a-uuid", 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDocumentStore_RoundTripAndNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore(memory.NewRepositoryFactory(memory.NewStore()))
	owner := uuid.NewString()

	require.NoError(t, store.Put(ctx, &ingest.Document{
		ID: "doc-1", OwnerID: owner, Content: "hello", Metadata: map[string]interface{}{"source": "notes"},
	}))

	doc, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, owner, doc.OwnerID)
	assert.Equal(t, "notes", doc.Metadata["source"])

	require.NoError(t, store.Delete(ctx, "doc-1"))
	_, err = store.Get(ctx, "doc-1")
	assert.True(t, apperr.IsNotFound(err))
}

type failingMessages struct {
	contract.ChatMessageRepository
	creates *int
	failAt  int
}

func (r failingMessages) Create(ctx context.Context, m *entity.ChatMessage) error {
	*r.creates++
	if *r.creates == r.failAt {
		return errors.New("db: connection reset")
	}
	return r.ChatMessageRepository.Create(ctx, m)
}

type failingUoW struct {
	unitofwork.UnitOfWork
	creates *int
	failAt  int
}

func (u failingUoW) ChatMessageRepository() contract.ChatMessageRepository {
	return failingMessages{ChatMessageRepository: u.UnitOfWork.ChatMessageRepository(), creates: u.creates, failAt: u.failAt}
}

type failingFactory struct {
	unitofwork.RepositoryFactory
	creates int
	failAt  int
}

func (f *failingFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return failingUoW{UnitOfWork: f.RepositoryFactory.NewUnitOfWork(ctx), creates: &f.creates, failAt: f.failAt}
}

func seedConversation(t *testing.T, factory unitofwork.RepositoryFactory, title string) string {
	t.Helper()
	conv := &entity.Conversation{Id: uuid.New(), UserId: uuid.New(), Title: title, CreatedAt: time.Now().UTC()}
	require.NoError(t, factory.NewUnitOfWork(context.Background()).ConversationRepository().Create(context.Background(), conv))
	return conv.Id.String()
}

func turn(t *testing.T, conv, user, reply string) []*history.Message {
	t.Helper()
	now := time.Now().UTC()
	msgs := make([]*history.Message, 0, 2)
	for _, m := range []struct {
		role    history.Role
		content string
	}{{history.RoleUser, user}, {history.RoleAssistant, reply}} {
		id, err := uuid.NewV7()
		require.NoError(t, err)
		msgs = append(msgs, &history.Message{ID: id.String(), ConversationID: conv, Role: m.role, Content: m.content, CreatedAt: now})
	}
	return msgs
}

func TestHistoryStore_TurnIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewRepositoryFactory(memory.NewStore())
	conv := seedConversation(t, mem, "")
	factory := &failingFactory{RepositoryFactory: mem, failAt: 2}
	store := NewHistoryStore(factory)

	err := store.AppendMessages(ctx, turn(t, conv, "Hello", "answer"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))

	msgs, err := store.RecentMessages(ctx, conv, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	stored, err := mem.NewUnitOfWork(ctx).ConversationRepository().FindOne(ctx, specification.ByID{ID: uuid.MustParse(conv)})
	require.NoError(t, err)
	assert.Empty(t, stored.Title)
	assert.Nil(t, stored.UpdatedAt)

	// a retry after the failure stores the turn exactly once
	require.NoError(t, store.AppendMessages(ctx, turn(t, conv, "Hello", "answer")))
	msgs, err = store.RecentMessages(ctx, conv, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, history.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, history.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestHistoryStore_TouchesConversation(t *testing.T) {
	ctx := context.Background()
	factory := memory.NewRepositoryFactory(memory.NewStore())
	store := NewHistoryStore(factory)

	tests := []struct {
		name      string
		title     string
		user      string
		wantTitle string
	}{
		{name: "untitled takes first user message", user: "  What colour is the sky?  ", wantTitle: "What colour is the sky?"},
		{name: "long message is cut", user: strings.Repeat("a", 60), wantTitle: strings.Repeat("a", 50) + "..."},
		{name: "existing title is kept", title: "Sky", user: "Another question", wantTitle: "Sky"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := seedConversation(t, factory, tt.title)
			require.NoError(t, store.AppendMessages(ctx, turn(t, conv, tt.user, "answer")))

			stored, err := factory.NewUnitOfWork(ctx).ConversationRepository().FindOne(ctx, specification.ByID{ID: uuid.MustParse(conv)})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, stored.Title)
			assert.NotNil(t, stored.UpdatedAt)
		})
	}
}

func TestHistoryStore_UnknownConversationIsNotFound(t *testing.T) {
	store := NewHistoryStore(memory.NewRepositoryFactory(memory.NewStore()))
	err := store.AppendMessages(context.Background(), turn(t, uuid.NewString(), "Hello", "answer"))
	assert.True(t, apperr.IsNotFound(err))
}
