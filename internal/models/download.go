package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DownloadRecord is a catalog entry for a song saved to disk.
type DownloadRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Source       string    `json:"source"`
	SongKey      string    `json:"song_key"`   // Song.Key of the downloaded song
	RemoteURL    string    `json:"remote_url"` // Location the audio was fetched from
	FilePath     string    `json:"file_path"`
	Opus         bool      `json:"opus"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// NewDownloadRecord creates a record for song with a fresh ID.
func NewDownloadRecord(song *Song, remoteURL, filePath string) *DownloadRecord {
	return &DownloadRecord{
		ID:           uuid.New().String(),
		Title:        song.Title,
		Artist:       song.Artist,
		Source:       song.Source,
		SongKey:      song.Key(),
		RemoteURL:    remoteURL,
		FilePath:     filePath,
		Opus:         song.Downloadable,
		DownloadedAt: time.Now().UTC(),
	}
}

func (d *DownloadRecord) Validate() error {
	if d.ID == "" {
		return errors.New("download ID cannot be empty")
	}
	if _, err := uuid.Parse(d.ID); err != nil {
		return errors.New("download ID must be a UUID")
	}
	if d.SongKey == "" {
		return errors.New("song key cannot be empty")
	}
	if d.FilePath == "" {
		return errors.New("file path cannot be empty")
	}
	if d.Size < 0 {
		return errors.New("size cannot be negative")
	}
	return nil
}
