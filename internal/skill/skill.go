// Package skill loads agent skill manifests: markdown files with a YAML
// frontmatter block describing when an agent should reach for them.
package skill

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Skill struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Body        string   `yaml:"-" json:"-"`
	Path        string   `yaml:"-" json:"-"`
}

func Load(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	s, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

func Parse(content string) (*Skill, error) {
	front, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	var s Skill
	if err := yaml.Unmarshal([]byte(front), &s); err != nil {
		return nil, fmt.Errorf("parse skill frontmatter: %w", err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("skill frontmatter missing name")
	}
	s.Body = body
	return &s, nil
}

func splitFrontmatter(content string) (front, body string, err error) {
	const fence = "---"
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, fence) {
		return "", "", fmt.Errorf("skill file must start with ---")
	}

	rest := trimmed[len(fence):]
	idx := strings.Index(rest, "\n"+fence)
	if idx < 0 {
		return "", "", fmt.Errorf("no closing --- found in skill frontmatter")
	}

	front = strings.TrimSpace(rest[:idx])
	afterClose := rest[idx+1+len(fence):]
	if nl := strings.IndexByte(afterClose, '\n'); nl >= 0 {
		body = afterClose[nl+1:]
	} else {
		body = ""
	}
	return front, body, nil
}
