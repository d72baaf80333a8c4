package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageWindow(t *testing.T) {
	tests := []struct {
		name          string
		page, perPage int
		offset, limit int
	}{
		{"first page", 1, 50, 0, 50},
		{"third page", 3, 20, 40, 20},
		{"page below one", 0, 20, 0, 20},
		{"per page too large", 2, 500, 50, 50},
		{"per page missing", 1, 0, 0, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, limit := pageWindow(tt.page, tt.perPage)
			assert.Equal(t, tt.offset, offset)
			assert.Equal(t, tt.limit, limit)
		})
	}
}

func TestLastPage(t *testing.T) {
	assert.Equal(t, 1, lastPage(0, 50))
	assert.Equal(t, 1, lastPage(50, 50))
	assert.Equal(t, 2, lastPage(51, 50))
	assert.Equal(t, 3, lastPage(120, 50))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/chat?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/chat?sslmode=disable"))
	assert.Equal(t, "pgx5://localhost/chat", migrateURL("postgresql://localhost/chat"))
	assert.Equal(t, "pgx5://localhost/chat", migrateURL("pgx5://localhost/chat"))
}

func TestDeref(t *testing.T) {
	name := "Siti"
	assert.Equal(t, "Siti", deref(&name))
	assert.Equal(t, "", deref[string](nil))
}
