package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"martmusic/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(songKey string, downloadedAt time.Time) *models.DownloadRecord {
	return &models.DownloadRecord{
		ID:           uuid.New().String(),
		Title:        "Title " + songKey,
		Artist:       "Artist",
		Source:       "youtube",
		SongKey:      songKey,
		RemoteURL:    "https://music.example.com" + songKey,
		FilePath:     "/music/Artist - Title.opus",
		Opus:         true,
		Size:         1234,
		SHA256:       "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		DownloadedAt: downloadedAt.UTC(),
	}
}

// runStorageContract exercises behaviour every backend must share.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty catalog", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		records, err := s.Downloads(ctx)
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)

		_, err = s.GetDownload(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.FindBySongKey(ctx, "/api/download/none")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("save and get", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		record := newTestRecord("/api/download/1", base)

		require.NoError(t, s.SaveDownload(ctx, record))

		got, err := s.GetDownload(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.ID, got.ID)
		assert.Equal(t, record.Title, got.Title)
		assert.Equal(t, record.Artist, got.Artist)
		assert.Equal(t, record.Source, got.Source)
		assert.Equal(t, record.SongKey, got.SongKey)
		assert.Equal(t, record.RemoteURL, got.RemoteURL)
		assert.Equal(t, record.FilePath, got.FilePath)
		assert.Equal(t, record.Opus, got.Opus)
		assert.Equal(t, record.Size, got.Size)
		assert.Equal(t, record.SHA256, got.SHA256)
		assert.True(t, record.DownloadedAt.Equal(got.DownloadedAt))

		bySong, err := s.FindBySongKey(ctx, "/api/download/1")
		require.NoError(t, err)
		assert.Equal(t, record.ID, bySong.ID)
	})

	t.Run("update existing id", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		record := newTestRecord("/api/download/1", base)
		require.NoError(t, s.SaveDownload(ctx, record))

		record.Size = 99
		record.FilePath = "/elsewhere/song.opus"
		require.NoError(t, s.SaveDownload(ctx, record))

		records, err := s.Downloads(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, int64(99), records[0].Size)
		assert.Equal(t, "/elsewhere/song.opus", records[0].FilePath)
	})

	t.Run("same song key replaces previous record", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		first := newTestRecord("/api/download/1", base)
		second := newTestRecord("/api/download/1", base.Add(time.Hour))

		require.NoError(t, s.SaveDownload(ctx, first))
		require.NoError(t, s.SaveDownload(ctx, second))

		_, err := s.GetDownload(ctx, first.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := s.FindBySongKey(ctx, "/api/download/1")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("downloads newest first", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		old := newTestRecord("/api/download/old", base)
		recent := newTestRecord("/api/download/recent", base.Add(2*time.Hour))
		middle := newTestRecord("/api/download/middle", base.Add(time.Hour+500*time.Millisecond))

		for _, r := range []*models.DownloadRecord{old, recent, middle} {
			require.NoError(t, s.SaveDownload(ctx, r))
		}

		records, err := s.Downloads(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, recent.ID, records[0].ID)
		assert.Equal(t, middle.ID, records[1].ID)
		assert.Equal(t, old.ID, records[2].ID)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		record := newTestRecord("/api/download/1", base)
		require.NoError(t, s.SaveDownload(ctx, record))

		require.NoError(t, s.DeleteDownload(ctx, record.ID))

		_, err := s.FindBySongKey(ctx, record.SongKey)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteDownload(ctx, record.ID), ErrNotFound)
		assert.ErrorIs(t, s.DeleteDownload(ctx, "not-a-uuid"), ErrNotFound)
	})

	t.Run("invalid record rejected", func(t *testing.T) {
		s := newStorage(t)
		record := newTestRecord("", base)

		assert.Error(t, s.SaveDownload(context.Background(), record))
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		record := newTestRecord("/api/download/1", base)
		require.NoError(t, s.SaveDownload(ctx, record))
		record.Title = "mutated after save"

		got, err := s.GetDownload(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "Title /api/download/1", got.Title)

		got.Title = "mutated after get"
		again, err := s.GetDownload(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "Title /api/download/1", again.Title)
	})

	t.Run("concurrent saves", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r := newTestRecord("/api/download/"+uuid.NewString(), base.Add(time.Duration(i)*time.Second))
				assert.NoError(t, s.SaveDownload(ctx, r))
			}(i)
		}
		wg.Wait()

		records, err := s.Downloads(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 20)
	})
}
