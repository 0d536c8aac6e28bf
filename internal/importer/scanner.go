// Package importer reads hand-written fact notes for backfilling memories.
//
// A note is a markdown file whose YAML frontmatter describes the fact and
// whose body is the excerpt it came from:
//
//	---
//	summary: Prefers morning meetings
//	category: preferences
//	confidence: 0.9
//	tags: [schedule, work]
//	---
//	I'm sharpest before lunch, so please book things early.
package importer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

// Note is one parsed fact note.
type Note struct {
	Summary    string   `yaml:"summary"`
	Category   string   `yaml:"category"`
	Confidence *float64 `yaml:"confidence"`
	Tags       []string `yaml:"tags"`
	Body       string   `yaml:"-"`
	Path       string   `yaml:"-"`
}

// Candidate converts the note into an ingest candidate. The body is the raw
// excerpt, falling back to the summary when the note has no body.
func (n Note) Candidate() models.IngestCandidate {
	raw := n.Body
	if raw == "" {
		raw = n.Summary
	}
	return models.IngestCandidate{
		Summary:         n.Summary,
		RawContent:      raw,
		ConfidenceScore: n.Confidence,
		Category:        n.Category,
		Tags:            n.Tags,
	}
}

// ScanNotes walks each path looking for *.md notes. A path may be a single
// file or a directory. Missing directories and files without a summary are
// skipped; the result is sorted by path.
func ScanNotes(paths []string) ([]Note, error) {
	var notes []Note

	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read note %s: %w", path, err)
			}
			note, err := parseNote(data)
			if err != nil || note.Summary == "" {
				return nil
			}
			note.Path = path
			notes = append(notes, note)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}

	sort.Slice(notes, func(i, j int) bool { return notes[i].Path < notes[j].Path })
	return notes, nil
}

// parseNote splits YAML frontmatter, delimited by --- markers, from the body.
func parseNote(data []byte) (Note, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "---") {
		return Note{}, errors.New("no frontmatter found")
	}

	rest := trimmed[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return Note{}, errors.New("no closing frontmatter delimiter")
	}

	var note Note
	if err := yaml.Unmarshal([]byte(rest[:idx]), &note); err != nil {
		return Note{}, fmt.Errorf("parse yaml: %w", err)
	}

	// Folded scalars keep a trailing newline.
	note.Summary = strings.TrimSpace(note.Summary)
	note.Body = strings.TrimSpace(rest[idx+len("\n---"):])
	return note, nil
}
