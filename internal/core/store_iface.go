package core

import (
	"context"
	"time"

	"github.com/dkeye/Parley/internal/domain"
)

// Inserted is what the store reports back for an accepted write.
type Inserted struct {
	ID        domain.MessageID
	CreatedAt time.Time
}

// MessageStore is the durable collaborator. Every call may be slow or fail;
// callers treat it as best-effort.
type MessageStore interface {
	InsertPublic(ctx context.Context, m domain.Message) (Inserted, error)
	InsertDirect(ctx context.Context, m domain.Message) (Inserted, error)
	// QueryPublicHistory returns at most limit non-deleted public messages older
	// than before (0 = newest), in ascending order.
	QueryPublicHistory(ctx context.Context, limit int, before domain.MessageID) ([]domain.Message, error)
	SoftDelete(ctx context.Context, id domain.MessageID, by domain.ClientID) error
	UpsertThread(ctx context.Context, t domain.Thread) error
	ListThreads(ctx context.Context, id domain.ClientID) ([]domain.Thread, error)
	ListBans(ctx context.Context) ([]string, error)
	UpsertBan(ctx context.Context, b domain.BanRecord) error
	DeleteBan(ctx context.Context, address string) error
	AppendAudit(ctx context.Context, e domain.ModerationLogEntry) error
	Close() error
}
