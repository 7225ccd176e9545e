package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type auditReader interface {
	AuditLog(ctx context.Context) ([]domain.ModerationLogEntry, error)
}

func backends(t *testing.T) map[string]core.MessageStore {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]core.MessageStore{
		"sqlite": sq,
		"memory": NewMemory(),
	}
}

func public(from domain.ClientID, text string) domain.Message {
	return domain.Message{Scope: domain.ScopePublic, From: from, Text: text, CreatedAt: time.Now().UTC()}
}

func TestPublicHistory(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var ids []domain.MessageID
			for _, txt := range []string{"one", "two", "three", "four"} {
				ins, err := s.InsertPublic(ctx, public("a", txt))
				require.NoError(t, err)
				assert.NotZero(t, ins.ID)
				ids = append(ids, ins.ID)
			}
			_, err := s.InsertDirect(ctx, domain.Message{From: "a", To: "b", Text: "dm"})
			require.NoError(t, err)

			got, err := s.QueryPublicHistory(ctx, 3, 0)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"two", "three", "four"}, []string{got[0].Text, got[1].Text, got[2].Text})

			older, err := s.QueryPublicHistory(ctx, 10, ids[2])
			require.NoError(t, err)
			require.Len(t, older, 2)
			assert.Equal(t, "one", older[0].Text)

			require.NoError(t, s.SoftDelete(ctx, ids[3], "mod"))
			require.NoError(t, s.SoftDelete(ctx, ids[3], "mod"), "idempotent")
			got, err = s.QueryPublicHistory(ctx, 10, 0)
			require.NoError(t, err)
			for _, m := range got {
				assert.NotEqual(t, "four", m.Text)
			}

			assert.ErrorIs(t, s.SoftDelete(ctx, 99999, "mod"), ErrMessageNotFound)
		})
	}
}

func TestMediaRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := public("a", "")
			m.Media = &domain.MediaRef{Kind: "image", Key: "public/1-cat.jpg", URL: "https://cdn.example/cat.jpg"}
			_, err := s.InsertPublic(ctx, m)
			require.NoError(t, err)
			got, err := s.QueryPublicHistory(ctx, 1, 0)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, m.Media, got[0].Media)
		})
	}
}

func TestThreads(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := domain.NewThreadKey("bob", "alice")
			require.NoError(t, s.UpsertThread(ctx, domain.Thread{Key: key, A: "bob", B: "alice"}))
			require.NoError(t, s.UpsertThread(ctx, domain.Thread{Key: key, A: "alice", B: "bob"}))
			require.NoError(t, s.UpsertThread(ctx, domain.Thread{A: "carol", B: "alice"}))
			assert.ErrorIs(t, s.UpsertThread(ctx, domain.Thread{Key: domain.NewThreadKey("carol", "alice")}), domain.ErrInvalidThread)

			got, err := s.ListThreads(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, domain.Thread{Key: "alice|bob", A: "alice", B: "bob"}, got[0])

			got, err = s.ListThreads(ctx, "bob")
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestThreadsWithSeparatorInIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.UpsertThread(ctx, domain.Thread{A: "a|b", B: "c"}))

			got, err := s.ListThreads(ctx, "c")
			require.NoError(t, err)
			require.Len(t, got, 1)
			p, ok := got[0].Partner("c")
			require.True(t, ok)
			assert.Equal(t, domain.ClientID("a|b"), p)

			got, err = s.ListThreads(ctx, "a")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestBans(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.UpsertBan(ctx, domain.BanRecord{Address: "203.0.113.5", Reason: "spam", IssuedBy: "mod"}))
			require.NoError(t, s.UpsertBan(ctx, domain.BanRecord{Address: "203.0.113.5", Reason: "again", IssuedBy: "mod2"}))
			require.NoError(t, s.UpsertBan(ctx, domain.BanRecord{Address: "198.51.100.1"}))
			bans, err := s.ListBans(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"203.0.113.5", "198.51.100.1"}, bans)

			require.NoError(t, s.DeleteBan(ctx, "203.0.113.5"))
			bans, err = s.ListBans(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"198.51.100.1"}, bans)
		})
	}
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AppendAudit(ctx, domain.ModerationLogEntry{Action: domain.ActionAdminLogin, Actor: "mod"}))
			require.NoError(t, s.AppendAudit(ctx, domain.ModerationLogEntry{
				Action: domain.ActionDelete, Actor: "mod", MessageID: 12, Reason: "rude",
			}))
			log, err := s.(auditReader).AuditLog(ctx)
			require.NoError(t, err)
			require.Len(t, log, 2)
			assert.Equal(t, domain.ActionDelete, log[1].Action)
			assert.Equal(t, domain.MessageID(12), log[1].MessageID)
			assert.False(t, log[0].At.IsZero())
		})
	}
}

func TestOpenDriver(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	_, err = Open("postgres", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
