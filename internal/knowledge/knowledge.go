// Package knowledge holds the company facts injected into every prompt.
package knowledge

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_profile.yaml
var defaultProfile []byte

type Service struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Link        string `yaml:"link"`
}

type Project struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

type Contact struct {
	Email    string `yaml:"email"`
	Phone    string `yaml:"phone"`
	Location string `yaml:"location"`
	Page     string `yaml:"page"`
}

type Link struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Profile is the editable source of the knowledge block.
type Profile struct {
	Version     string    `yaml:"version"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Mission     string    `yaml:"mission"`
	Vision      string    `yaml:"vision"`
	About       string    `yaml:"about"`
	Services    []Service `yaml:"services"`
	Projects    []Project `yaml:"projects"`
	Contact     Contact   `yaml:"contact"`
	Social      []Link    `yaml:"social"`
}

// ParseProfile decodes a YAML (or JSON) profile document.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("knowledge: decode profile: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return Profile{}, errors.New("knowledge: profile name is required")
	}
	return p, nil
}

// Context is the rendered, read-only knowledge block. The zero value is
// empty; build one with New, Default or Load.
type Context struct {
	name    string
	version string
	text    string
}

// New renders p into a Context. The version is p.Version when set, otherwise
// a short hash of the rendered text.
func New(p Profile) Context {
	text := render(p)
	version := strings.TrimSpace(p.Version)
	if version == "" {
		sum := sha256.Sum256([]byte(text))
		version = hex.EncodeToString(sum[:6])
	}
	return Context{name: strings.TrimSpace(p.Name), version: version, text: text}
}

// Default returns the Context built from the embedded profile.
func Default() (Context, error) {
	p, err := ParseProfile(defaultProfile)
	if err != nil {
		return Context{}, err
	}
	return New(p), nil
}

// Getter is the subset of paramstore.Client used by Load.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Load reads a profile document from Parameter Store.
func Load(ctx context.Context, g Getter, name string) (Context, error) {
	if g == nil {
		return Context{}, errors.New("knowledge: getter must not be nil")
	}
	raw, err := g.GetParameter(ctx, name)
	if err != nil {
		return Context{}, fmt.Errorf("knowledge: load %s: %w", name, err)
	}
	p, err := ParseProfile([]byte(raw))
	if err != nil {
		return Context{}, err
	}
	return New(p), nil
}

func (c Context) Name() string    { return c.name }
func (c Context) Version() string { return c.version }
func (c Context) Text() string    { return c.text }
func (c Context) IsZero() bool    { return c.text == "" }

func render(p Profile) string {
	var b strings.Builder
	line := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}

	line("Company Name", p.Name)
	line("Company Description", p.Description)
	line("Mission", p.Mission)
	line("Vision", p.Vision)
	line("About", p.About)

	if len(p.Services) > 0 {
		b.WriteString("\nServices Offered:\n")
		for _, s := range p.Services {
			fmt.Fprintf(&b, "- %s: %s", s.Title, s.Description)
			if s.Link != "" {
				fmt.Fprintf(&b, " (More info: %s)", s.Link)
			}
			b.WriteString("\n")
		}
	}
	if len(p.Projects) > 0 {
		b.WriteString("\nFeatured Projects:\n")
		for _, pr := range p.Projects {
			fmt.Fprintf(&b, "- %s: %s\n", pr.Title, pr.Description)
		}
	}

	b.WriteString("\nContact Information:\n")
	contact := []struct{ label, v string }{
		{"Email", p.Contact.Email},
		{"Phone", p.Contact.Phone},
		{"Location", p.Contact.Location},
		{"Contact Page", p.Contact.Page},
	}
	for _, c := range contact {
		if c.v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", c.label, c.v)
		}
	}

	if len(p.Social) > 0 {
		b.WriteString("\nSocial Media:\n")
		for _, s := range p.Social {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.URL)
		}
	}
	return strings.TrimSpace(b.String())
}
