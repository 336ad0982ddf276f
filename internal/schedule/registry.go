package schedule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds schedules loaded from YAML files.
type Registry struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schedules: make(map[string]*Schedule),
	}
}

// yamlSchedule is the on-disk form. Blocks may list several days and use
// "HH:MM" clock strings.
type yamlSchedule struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Groups []struct {
		Name   string `yaml:"name"`
		Blocks []struct {
			Day   string   `yaml:"day"`
			Days  []string `yaml:"days"`
			Start string   `yaml:"start"`
			End   string   `yaml:"end"`
		} `yaml:"blocks"`
	} `yaml:"groups"`
}

// Parse decodes and validates one YAML schedule document.
func Parse(data []byte) (*Schedule, error) {
	var raw yamlSchedule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schedule YAML: %w", err)
	}

	s := &Schedule{ID: raw.ID, Name: raw.Name}
	for _, rg := range raw.Groups {
		g := Group{Name: rg.Name}
		for _, rb := range rg.Blocks {
			start, err := ParseClock(rb.Start)
			if err != nil {
				return nil, fmt.Errorf("group %q: start: %w", rg.Name, err)
			}
			end, err := ParseClock(rb.End)
			if err != nil {
				return nil, fmt.Errorf("group %q: end: %w", rg.Name, err)
			}
			days := rb.Days
			if rb.Day != "" {
				days = append(days, rb.Day)
			}
			if len(days) == 0 {
				return nil, fmt.Errorf("group %q: block has no day", rg.Name)
			}
			for _, d := range days {
				day, err := ParseWeekday(d)
				if err != nil {
					return nil, fmt.Errorf("group %q: %w", rg.Name, err)
				}
				g.Blocks = append(g.Blocks, TimeBlock{Day: day, StartMinute: start, EndMinute: end})
			}
		}
		s.Groups = append(s.Groups, g)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFromFile loads a schedule from a YAML file.
func (r *Registry) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schedule file: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	r.mu.Lock()
	r.schedules[s.ID] = s
	r.mu.Unlock()
	return nil
}

// LoadFromDir replaces the registry contents with every *.yaml/*.yml file in
// dir. On error the previous contents are kept.
func (r *Registry) LoadFromDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read schedules directory: %w", err)
	}

	loaded := NewRegistry()
	for _, entry := range entries {
		if entry.IsDir() || !isScheduleFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := loaded.LoadFromFile(path); err != nil {
			return fmt.Errorf("failed to load schedule from %s: %w", path, err)
		}
	}

	r.mu.Lock()
	r.schedules = loaded.schedules
	r.mu.Unlock()
	return nil
}

// Get implements Source.
func (r *Registry) Get(_ context.Context, id string) (*Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return s, nil
}

// List returns all schedules sorted by id.
func (r *Registry) List() []*Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func isScheduleFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
