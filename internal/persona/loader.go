// Package persona loads roommate definitions from YAML.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"flatshare/internal/domain"
	"flatshare/internal/mood"
	"flatshare/internal/strategy"
)

//go:embed personas.yaml
var builtin []byte

var (
	ErrNoPersonas  = errors.New("no personas defined")
	ErrDuplicateID = errors.New("duplicate persona id")
)

type file struct {
	Personas []domain.Persona `yaml:"personas"`
}

// Default returns the built-in cast.
func Default() []domain.Persona {
	ps, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("builtin personas: %v", err))
	}
	return ps
}

// Load returns the built-in cast when path is empty, otherwise the personas
// in path, which may be a single YAML file or a directory of them.
func Load(path string, logger *slog.Logger) ([]domain.Persona, error) {
	if path == "" {
		return Default(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat personas: %w", err)
	}
	if info.IsDir() {
		return LoadFromDirectory(path, logger)
	}
	return LoadFile(path)
}

// LoadFile reads one YAML file holding a "personas" list.
func LoadFile(path string) ([]domain.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas: %w", err)
	}
	ps, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// Parse decodes and validates a personas document. A document holding a
// single persona at the top level is accepted too.
func Parse(data []byte) ([]domain.Persona, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	if len(f.Personas) == 0 {
		var one domain.Persona
		if err := yaml.Unmarshal(data, &one); err == nil && one.Name != "" {
			f.Personas = []domain.Persona{one}
		}
	}
	return normalize(f.Personas)
}

// LoadFromDirectory loads every .yaml or .yml file in dir. Files that cannot
// be read or parsed are skipped with a warning.
func LoadFromDirectory(dir string, logger *slog.Logger) ([]domain.Persona, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read personas dir: %w", err)
	}

	var all []domain.Persona
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read persona file", "path", path, "err", err)
			continue
		}
		ps, err := Parse(data)
		if err != nil {
			logger.Warn("cannot parse persona file", "path", path, "err", err)
			continue
		}
		for _, p := range ps {
			logger.Info("loaded persona", "id", p.ID, "path", path)
		}
		all = append(all, ps...)
	}
	return normalize(all)
}

func normalize(ps []domain.Persona) ([]domain.Persona, error) {
	if len(ps) == 0 {
		return nil, ErrNoPersonas
	}
	seen := make(map[string]bool, len(ps))
	var errs []error
	for i := range ps {
		p := &ps[i]
		if p.ID == "" {
			p.ID = strings.ToLower(strings.ReplaceAll(p.Name, " ", ""))
		}
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("persona %d: id or name is required", i))
			continue
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateID, p.ID))
		}
		seen[p.ID] = true

		if p.BaselineMood == 0 {
			p.BaselineMood = mood.DefaultBaseline
		}
		p.BaselineMood = max(int(mood.Min), min(int(mood.Max), p.BaselineMood))
		p.Spice = max(1, min(5, p.Spice))
		if p.PreferredStrategy != "" {
			st, ok := strategy.Parse(p.PreferredStrategy)
			if !ok {
				errs = append(errs, fmt.Errorf("persona %s: unknown strategy %q", p.ID, p.PreferredStrategy))
			} else {
				p.PreferredStrategy = string(st)
			}
		}
		if p.Cultural == "" {
			p.Cultural = "generic"
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ps, nil
}

// Index maps personas by ID.
func Index(ps []domain.Persona) map[string]*domain.Persona {
	m := make(map[string]*domain.Persona, len(ps))
	for i := range ps {
		m[ps[i].ID] = &ps[i]
	}
	return m
}

// IDs returns the persona IDs in cast order.
func IDs(ps []domain.Persona) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// Lookup finds a persona by ID or case-insensitive name.
func Lookup(ps []domain.Persona, key string) (domain.Persona, bool) {
	for _, p := range ps {
		if p.ID == key || strings.EqualFold(p.Name, key) {
			return p, true
		}
	}
	return domain.Persona{}, false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
