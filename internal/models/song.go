// Package models - Song records and the API response envelope.
// This file defines the payload shapes returned by the music API.
//
// Payload Notes:
// - Search results arrive wrapped in a success/error envelope
// - Songs hosted by the API carry a relative download path
// - Songs hosted elsewhere carry an absolute URL and are not opus encoded
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Song is a single search result.
type Song struct {
	Title        string         `json:"title"`
	Artist       string         `json:"artist"`
	Path         string         `json:"dl_path"`        // Download path on the API, relative to the base URL
	Downloadable bool           `json:"downloadable"`   // Whether the API serves the audio itself
	URL          string         `json:"url,omitempty"`  // Raw source URL, set when Downloadable is false
	Source       string         `json:"source"`         // Source website
	Info         map[string]any `json:"info,omitempty"` // Additional provider metadata
}

// DownloadURL returns the location the song is fetched from. Downloadable
// songs are served by the API under root; the rest come from their raw URL.
func (s *Song) DownloadURL(root string) string {
	if s.Downloadable {
		return strings.TrimSuffix(root, "/") + s.Path
	}
	return s.URL
}

// Key identifies the song independently of search results. It is the API
// path for downloadable songs and the raw URL otherwise.
func (s *Song) Key() string {
	if s.Downloadable {
		return s.Path
	}
	return s.URL
}

// Validate checks that the song can be downloaded.
func (s *Song) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("song title cannot be empty")
	}
	if s.Downloadable && s.Path == "" {
		return errors.New("downloadable song has no download path")
	}
	if !s.Downloadable && s.URL == "" {
		return errors.New("song has neither a download path nor a URL")
	}
	return nil
}

// String formats the song for CLI listings.
func (s *Song) String() string {
	if s.Artist == "" {
		return fmt.Sprintf("%s [%s]", s.Title, s.Source)
	}
	return fmt.Sprintf("%s - %s [%s]", s.Artist, s.Title, s.Source)
}

// SearchResponse is the envelope returned by the search endpoint.
type SearchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Result  []Song `json:"result"`
}

// APIError is returned when the API answers without success.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "music API reported failure"
	}
	return "music API error: " + e.Message
}

// Songs returns the results, or an *APIError when the API reported failure.
func (r *SearchResponse) Songs() ([]Song, error) {
	if !r.Success {
		return nil, &APIError{Message: r.Error}
	}
	if r.Result == nil {
		return []Song{}, nil
	}
	return r.Result, nil
}
