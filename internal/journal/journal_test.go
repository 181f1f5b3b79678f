// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/scanintake/internal/intake"
	"github.com/ffutop/scanintake/payload"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	return j, path
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	j.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()

	ok := intake.Record{ID: "a", Name: "Paracetamol", Count: 5, Category: "analgesic", Source: payload.SourceSerial, ScannedAt: base}
	require.NoError(t, j.Record(ctx, ok, intake.Result{MedicineName: "Paracetamol", Bin: "A-12", TotalStock: 25, Upserted: true}, nil))

	failed := intake.Record{ID: "b", Name: "Gauze", Count: 1, Source: payload.SourceKeyboard}
	require.NoError(t, j.Record(ctx, failed, intake.Result{}, &intake.RejectedError{StatusCode: 400, Detail: "No free bins"}))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "No free bins", entries[0].Error)
	assert.Equal(t, payload.SourceKeyboard, entries[0].Source)
	assert.False(t, entries[0].ScannedAt.IsZero())

	assert.Equal(t, "a", entries[1].ID)
	assert.Equal(t, StatusOK, entries[1].Status)
	assert.Equal(t, "A-12", entries[1].Bin)
	assert.Equal(t, 25, entries[1].TotalStock)
	assert.True(t, entries[1].Upserted)
	assert.Equal(t, "analgesic", entries[1].Category)
	assert.True(t, entries[1].ScannedAt.Equal(base))
}

func TestJournal_RecentLimit(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, j.Record(ctx, intake.Record{ID: id, Name: "X", Count: 1}, intake.Result{}, nil))
	}
	entries, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestJournal_ReopenKeepsEntries(t *testing.T) {
	j, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, intake.Record{ID: "keep", Name: "Saline", Count: 2}, intake.Result{}, errors.New("timeout")))
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].ID)
	assert.Equal(t, "An error occurred while adding stock", entries[0].Error)
}
