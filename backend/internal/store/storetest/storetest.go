// Package storetest opens throwaway in-memory stores for tests.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/store"
)

// Open returns a migrated repository backed by a private in-memory sqlite
// database.
func Open(t *testing.T) *store.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	repo, err := store.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// Project creates a project with the given name and returns it
func Project(t *testing.T, repo *store.Repository, name string) *domain.Project {
	t.Helper()
	p := &domain.Project{Name: name}
	require.NoError(t, repo.CreateProject(context.Background(), p))
	return p
}
