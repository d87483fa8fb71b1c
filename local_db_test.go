package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := openDB("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}

func seedRecords(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, InsertExportRecord(db, ExportRecord{
			JobID:     uuid.NewString(),
			Title:     "report",
			Status:    jobStatusCompleted,
			Pages:     i + 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestGetPaginatedExportRecords(t *testing.T) {
	db := newTestDB(t)
	seedRecords(t, db, 5)

	tests := []struct {
		name      string
		page      int
		pageSize  int
		wantPages []int
	}{
		{"first page", 1, 2, []int{5, 4}},
		{"second page", 2, 2, []int{3, 2}},
		{"last partial page", 3, 2, []int{1}},
		{"past the end", 4, 2, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, total, err := GetPaginatedExportRecords(db, tc.page, tc.pageSize)
			require.NoError(t, err)
			assert.Equal(t, int64(5), total)

			var pages []int
			for _, r := range records {
				pages = append(pages, r.Pages)
			}
			assert.Equal(t, tc.wantPages, pages)
		})
	}
}

func TestPruneExportRecords(t *testing.T) {
	db := newTestDB(t)
	seedRecords(t, db, 5)

	removed, err := PruneExportRecords(db, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	records, total, err := GetPaginatedExportRecords(db, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, records, 2)
	assert.Equal(t, 5, records[0].Pages)
	assert.Equal(t, 4, records[1].Pages)

	removed, err = PruneExportRecords(db, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
