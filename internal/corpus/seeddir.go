package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// LoadSeedDir reads *.txt and *.md files under dir as extra noise seeds,
// one entry per file, so real notes can be mixed into the synthetic
// corpus. A .benchignore file at the directory root excludes paths with
// gitignore syntax. Files are visited in lexical order, so the seed list
// is deterministic.
func LoadSeedDir(dir string) ([]Seed, error) {
	var matcher *ignore.GitIgnore
	ignorePath := filepath.Join(dir, ".benchignore")
	if _, err := os.Stat(ignorePath); err == nil {
		matcher, err = ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("parsing .benchignore: %w", err)
		}
	}

	var seeds []Seed
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading seed file %s: %w", rel, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil
		}
		seeds = append(seeds, Seed{Text: text, Cluster: 0})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking seed directory %s: %w", dir, err)
	}
	return seeds, nil
}
