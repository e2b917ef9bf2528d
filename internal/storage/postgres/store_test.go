package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepwarm/internal/models"
	"keepwarm/internal/storage"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("KEEPWARM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KEEPWARM_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	name := "test-" + t.Name()
	var doc storage.TargetsDocument
	assert.ErrorIs(t, store.Load(ctx, name, &doc), storage.ErrNotFound)

	in := storage.TargetsDocument{ScheduledTargets: []models.Target{{ID: 7, URL: "https://c.example", Name: "c", Mode: models.ModeScheduled}}}
	require.NoError(t, store.Save(ctx, name, in))
	require.NoError(t, store.Load(ctx, name, &doc))
	assert.Equal(t, in.ScheduledTargets, doc.ScheduledTargets)

	_, err = store.db.Exec(ctx, `DELETE FROM documents WHERE name = $1`, name)
	require.NoError(t, err)
}
