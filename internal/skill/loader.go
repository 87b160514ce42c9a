package skill

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"clawgate/internal/domain"
)

// SkillFile is the file name looked up in each skill directory.
const SkillFile = "SKILL.md"

var errNoFrontMatter = errors.New("missing YAML front-matter")

// LoadFromDirectory loads <dir>/<name>/SKILL.md files. Files without a
// front-matter name and description are skipped with a warning.
func LoadFromDirectory(dir string, logger *slog.Logger) ([]domain.Skill, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		logger.Debug("skills directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*", SkillFile))
	if err != nil {
		return nil, fmt.Errorf("scan skills dir: %w", err)
	}
	sort.Strings(paths)

	var skills []domain.Skill
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read skill file", "path", path, "err", err)
			continue
		}
		s, err := Parse(data)
		if err != nil {
			logger.Warn("cannot parse skill file", "path", path, "err", err)
			continue
		}
		s.Path = path
		logger.Info("loaded skill", "name", s.Name, "path", path)
		skills = append(skills, s)
	}
	return skills, nil
}

// Parse splits a SKILL.md document into its front-matter and body.
func Parse(data []byte) (domain.Skill, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	rest, ok := strings.CutPrefix(text, "---\n")
	if !ok {
		return domain.Skill{}, errNoFrontMatter
	}
	meta, body, ok := strings.Cut(rest, "\n---")
	if !ok {
		return domain.Skill{}, errNoFrontMatter
	}
	// Drop the remainder of the closing fence line.
	if _, after, found := strings.Cut(body, "\n"); found {
		body = after
	} else {
		body = ""
	}

	var s domain.Skill
	if err := yaml.Unmarshal([]byte(meta), &s); err != nil {
		return domain.Skill{}, fmt.Errorf("front-matter: %w", err)
	}
	if s.Name == "" || s.Description == "" {
		return domain.Skill{}, fmt.Errorf("front-matter needs name and description")
	}
	s.Content = strings.TrimSpace(body)
	return s, nil
}
