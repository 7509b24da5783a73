// Package library downloads songs to a local directory and keeps the
// download catalog in sync with what is on disk.
package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"martmusic/internal/models"
	"martmusic/internal/storage"

	"golang.org/x/sync/errgroup"
)

// MusicClient is the subset of the API client the service needs.
type MusicClient interface {
	Search(ctx context.Context, query string) ([]models.Song, error)
	DownloadTo(ctx context.Context, song *models.Song, w io.Writer) (int64, bool, error)
	BaseURL() string
}

// Service handles searching, downloading and cataloguing songs
type Service struct {
	client  MusicClient
	storage storage.Storage
	dir     string
	logger  *slog.Logger
}

// FetchResult is the outcome of fetching one song.
type FetchResult struct {
	Song    models.Song
	Record  *models.DownloadRecord
	Skipped bool // Already in the catalog and present on disk
	Err     error
}

// NewService creates a library service saving files under dir.
func NewService(client MusicClient, store storage.Storage, dir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:  client,
		storage: store,
		dir:     dir,
		logger:  logger,
	}
}

// Search looks up songs matching query.
func (s *Service) Search(ctx context.Context, query string) ([]models.Song, error) {
	songs, err := s.client.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return songs, nil
}

// Fetch downloads song unless the catalog already has it on disk. The bool
// reports whether the download was skipped.
func (s *Service) Fetch(ctx context.Context, song *models.Song) (*models.DownloadRecord, bool, error) {
	if err := song.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid song: %w", err)
	}

	existing, err := s.storage.FindBySongKey(ctx, song.Key())
	switch {
	case err == nil:
		if _, statErr := os.Stat(existing.FilePath); statErr == nil {
			s.logger.Info("song already downloaded", "song", song.String(), "path", existing.FilePath)
			return existing, true, nil
		}
		s.logger.Warn("catalogued file is missing, downloading again", "song", song.String(), "path", existing.FilePath)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up download: %w", err)
	}

	record, err := s.download(ctx, song)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		// Keep the catalog ID stable across re-downloads
		record.ID = existing.ID
	}

	if err := s.storage.SaveDownload(ctx, record); err != nil {
		return nil, false, fmt.Errorf("failed to record download: %w", err)
	}

	s.logger.Info("song downloaded",
		"song", song.String(),
		"path", record.FilePath,
		"bytes", record.Size,
		"opus", record.Opus,
	)
	return record, false, nil
}

// FetchAll fetches songs with at most concurrency downloads in flight.
// Results are returned in the order of songs. The rate limit gates are
// shared, so extra concurrency only helps while quota is available.
func (s *Service) FetchAll(ctx context.Context, songs []models.Song, concurrency int) []FetchResult {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]FetchResult, len(songs))
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i := range songs {
		g.Go(func() error {
			song := songs[i]
			record, skipped, err := s.Fetch(ctx, &song)
			results[i] = FetchResult{Song: song, Record: record, Skipped: skipped, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// List returns catalogued downloads, most recent first.
func (s *Service) List(ctx context.Context) ([]*models.DownloadRecord, error) {
	records, err := s.storage.Downloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	return records, nil
}

// Forget removes a download from the catalog, and its file when removeFile
// is set. A file that is already gone is not an error.
func (s *Service) Forget(ctx context.Context, id string, removeFile bool) (*models.DownloadRecord, error) {
	record, err := s.storage.GetDownload(ctx, id)
	if err != nil {
		return nil, err
	}

	if removeFile {
		if err := os.Remove(record.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove %s: %w", record.FilePath, err)
		}
	}

	if err := s.storage.DeleteDownload(ctx, id); err != nil {
		return nil, err
	}

	s.logger.Info("download forgotten", "id", id, "path", record.FilePath, "file_removed", removeFile)
	return record, nil
}

// download streams song into a temporary file, hashing it on the way, and
// renames it into place once complete.
func (s *Service) download(ctx context.Context, song *models.Song) (*models.DownloadRecord, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".martmusic-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	hash := sha256.New()
	n, isOpus, err := s.client.DownloadTo(ctx, song, io.MultiWriter(tmp, hash))
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to write %s: %w", tmpPath, closeErr)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", song.String(), err)
	}

	finalPath := filepath.Join(s.dir, FileName(song, isOpus))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}
	committed = true

	record := models.NewDownloadRecord(song, song.DownloadURL(s.client.BaseURL()), finalPath)
	record.Opus = isOpus
	record.Size = n
	record.SHA256 = hex.EncodeToString(hash.Sum(nil))
	return record, nil
}

// FileName returns "<artist> - <title> [<tag>].<ext>" with characters that
// are unsafe in file names replaced. The tag is the first 8 hex digits of
// the SHA-256 of the song key, so songs sharing artist and title (the same
// track from two sources) get their own files. Opus audio gets the .opus
// extension, other sources .bin because their container is unknown.
func FileName(song *models.Song, isOpus bool) string {
	ext := "bin"
	if isOpus {
		ext = "opus"
	}

	name := sanitize(song.Title)
	if artist := sanitize(song.Artist); artist != "" {
		name = artist + " - " + name
	}
	if name == "" {
		name = "untitled"
	}
	if tag := keyTag(song.Key()); tag != "" {
		name += " [" + tag + "]"
	}
	return name + "." + ext
}

// keyTag is empty for songs without a key.
func keyTag(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

var unsafeChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "",
)

func sanitize(s string) string {
	s = unsafeChars.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, ". ")
	const maxLen = 120
	if len(s) > maxLen {
		// Cut on a rune boundary
		cut := maxLen
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
