// Package archive extracts (source-id, URL) pairs from social media archive
// exports. An archive file carries tweet sections whose entities hold the
// canonical expanded URLs; tweet text is scanned as a fallback for links the
// entities missed.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

// tweet sections present in archive exports.
var sections = []string{"tweets", "community-tweet", "note-tweet"}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

type urlEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
}

type tweet struct {
	IDStr    string `json:"id_str"`
	Text     string `json:"text"`
	FullText string `json:"full_text"`
	Entities struct {
		URLs []urlEntity `json:"urls"`
	} `json:"entities"`
}

type tweetWrapper struct {
	Tweet *tweet `json:"tweet"`
}

// Extract parses archive JSON and returns one Source per URL occurrence, in
// document order. username scopes the source IDs.
func Extract(data []byte, username string) ([]linkmeta.Source, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse archive: %w", err)
	}

	var sources []linkmeta.Source
	for _, section := range sections {
		raw, ok := doc[section]
		if !ok {
			continue
		}
		var wrappers []tweetWrapper
		if err := json.Unmarshal(raw, &wrappers); err != nil {
			return nil, fmt.Errorf("parse archive section %q: %w", section, err)
		}
		for _, w := range wrappers {
			if w.Tweet == nil {
				continue
			}
			sourceID := w.Tweet.IDStr
			if username != "" {
				sourceID = username + "/" + sourceID
			}
			for _, u := range tweetURLs(w.Tweet) {
				sources = append(sources, linkmeta.Source{SourceID: sourceID, URL: u})
			}
		}
	}
	return sources, nil
}

// tweetURLs collects the distinct URLs of one tweet, entities first.
func tweetURLs(t *tweet) []string {
	var urls []string
	seen := map[string]struct{}{}
	add := func(u string) {
		u = trimTrailingPunct(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, entity := range t.Entities.URLs {
		if entity.ExpandedURL != "" {
			add(entity.ExpandedURL)
		} else if entity.URL != "" {
			add(entity.URL)
		}
	}

	text := t.FullText
	if text == "" {
		text = t.Text
	}
	for _, match := range urlPattern.FindAllString(text, -1) {
		add(match)
	}
	return urls
}

func trimTrailingPunct(u string) string {
	return strings.TrimRight(u, ".,;:!?)")
}

// LoadFile reads one archive file; the username is derived from the file stem
// by stripping the conventional _archive suffix.
func LoadFile(path string) ([]linkmeta.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	username := strings.TrimSuffix(stem, "_archive")
	sources, err := Extract(data, username)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	return sources, nil
}

// LoadDir extracts sources from every *_archive.json under dir. A file that
// fails to parse is logged and skipped so one bad export cannot sink a run.
func LoadDir(dir string, logger *zap.Logger) ([]linkmeta.Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*_archive.json"))
	if err != nil {
		return nil, fmt.Errorf("scan archive dir: %w", err)
	}
	var sources []linkmeta.Source
	for _, path := range matches {
		fileSources, err := LoadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable archive", zap.String("path", path), zap.Error(err))
			continue
		}
		sources = append(sources, fileSources...)
	}
	logger.Info("archives loaded", zap.Int("files", len(matches)), zap.Int("urls", len(sources)))
	return sources, nil
}
