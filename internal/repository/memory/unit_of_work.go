package memory

import (
	"context"
	"fmt"
	"sync"

	"ai-ragchat-be/internal/repository/contract"
	"ai-ragchat-be/internal/repository/unitofwork"
)

// RepositoryFactory serves every unit of work from one shared Store. Used
// when no database is configured, and by tests.
type RepositoryFactory struct {
	store *Store
}

func NewRepositoryFactory(store *Store) unitofwork.RepositoryFactory {
	return &RepositoryFactory{store: store}
}

func (f *RepositoryFactory) NewUnitOfWork(context.Context) unitofwork.UnitOfWork {
	return &unitOfWork{store: f.store}
}

// journal collects the undo step of every write made inside a transaction.
// Writes are visible to other readers immediately; Rollback replays the
// undo steps newest first.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) record(fn func()) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

func (j *journal) rollback() {
	j.mu.Lock()
	steps := j.undo
	j.undo = nil
	j.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

type unitOfWork struct {
	store *Store
	tx    *journal
}

func (u *unitOfWork) Begin(context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}
	u.tx = &journal{}
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}
	u.tx = nil
	return nil
}

// Rollback is a no-op after Commit, so it can always be deferred.
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	u.tx.rollback()
	u.tx = nil
	return nil
}

func (u *unitOfWork) ConversationRepository() contract.ConversationRepository {
	return &ConversationRepository{s: u.store, tx: u.tx}
}

func (u *unitOfWork) ChatMessageRepository() contract.ChatMessageRepository {
	return &ChatMessageRepository{s: u.store, tx: u.tx}
}

func (u *unitOfWork) DocumentRepository() contract.DocumentRepository {
	return &DocumentRepository{s: u.store, tx: u.tx}
}
