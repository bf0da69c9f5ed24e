// Package profile loads the agent profile file (frontdesk.agent.yaml):
// the business identity, the bookable services catalog, the business
// hours used by availability lookups and optional guardrail phrase
// overrides. A missing file yields the built-in defaults.
package profile

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/frontdesk-io/frontdesk/internal/tools"
)

// DefaultFileName is looked up in the working directory and the data dir.
const DefaultFileName = "frontdesk.agent.yaml"

// Business identifies who the assistant answers for.
type Business struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// Service is one bookable catalog entry.
type Service struct {
	Code    string `yaml:"code"`
	Name    string `yaml:"name"`
	Minutes int    `yaml:"minutes"`
}

// Guardrails carries policy overrides.
type Guardrails struct {
	RegisterPhrases []string `yaml:"register_phrases"`
}

// Profile is the parsed agent profile.
type Profile struct {
	Business   Business            `yaml:"business"`
	Services   []Service           `yaml:"services"`
	Hours      map[string][]string `yaml:"hours"`
	Guardrails Guardrails          `yaml:"guardrails"`

	windows map[time.Weekday][]minuteRange
}

type minuteRange struct {
	from int // minutes since midnight, inclusive
	to   int // exclusive
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Default returns the profile used when no file is present.
func Default() *Profile {
	return &Profile{Business: Business{Name: "Frontdesk"}}
}

// Load reads and validates the profile at path. A missing file is not an
// error: the defaults are returned instead.
func Load(path string) (*Profile, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debug().Str("path", path).Msg("profile_file_absent")
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile file %s: %w", path, err)
	}
	return Parse(content)
}

// Parse decodes the YAML profile and compiles the hours table.
func Parse(content []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("parsing profile YAML: %w", err)
	}
	if p.Business.Name == "" {
		p.Business.Name = "Frontdesk"
	}
	for i, svc := range p.Services {
		if svc.Code == "" {
			return nil, fmt.Errorf("services[%d]: code is required", i)
		}
		if svc.Minutes <= 0 {
			return nil, fmt.Errorf("service %s: minutes must be positive", svc.Code)
		}
		if svc.Name == "" {
			p.Services[i].Name = svc.Code
		}
	}
	if err := p.compileHours(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) compileHours() error {
	if len(p.Hours) == 0 {
		return nil
	}
	p.windows = make(map[time.Weekday][]minuteRange, len(p.Hours))
	for name, ranges := range p.Hours {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return fmt.Errorf("hours: unknown weekday %q", name)
		}
		var compiled []minuteRange
		for _, raw := range ranges {
			r, err := parseRange(raw)
			if err != nil {
				return fmt.Errorf("hours.%s: %w", name, err)
			}
			compiled = append(compiled, r)
		}
		sort.Slice(compiled, func(i, j int) bool { return compiled[i].from < compiled[j].from })
		p.windows[day] = compiled
	}
	return nil
}

// parseRange parses "HH:MM-HH:MM" into minutes since midnight.
func parseRange(raw string) (minuteRange, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "-", 2)
	if len(parts) != 2 {
		return minuteRange{}, fmt.Errorf("invalid range %q, want HH:MM-HH:MM", raw)
	}
	from, err := parseClock(parts[0])
	if err != nil {
		return minuteRange{}, fmt.Errorf("invalid range %q: %w", raw, err)
	}
	to, err := parseClock(parts[1])
	if err != nil {
		return minuteRange{}, fmt.Errorf("invalid range %q: %w", raw, err)
	}
	if to <= from {
		return minuteRange{}, fmt.Errorf("invalid range %q: end before start", raw)
	}
	return minuteRange{from: from, to: to}, nil
}

func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Windows returns the business-hours function for availability lookups,
// or nil when the profile declares no hours and the default schedule
// should apply.
func (p *Profile) Windows() tools.WindowsFunc {
	if len(p.windows) == 0 {
		return nil
	}
	windows := p.windows
	return func(day time.Time) [][2]time.Time {
		ranges := windows[day.Weekday()]
		out := make([][2]time.Time, 0, len(ranges))
		for _, r := range ranges {
			at := func(mins int) time.Time {
				return time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, day.Location())
			}
			out = append(out, [2]time.Time{at(r.from), at(r.to)})
		}
		return out
	}
}

// ServiceDefs converts the catalog section for the tool registry.
func (p *Profile) ServiceDefs() []tools.ServiceDef {
	defs := make([]tools.ServiceDef, 0, len(p.Services))
	for _, svc := range p.Services {
		defs = append(defs, tools.ServiceDef{Code: svc.Code, Name: svc.Name, Minutes: svc.Minutes})
	}
	return defs
}
