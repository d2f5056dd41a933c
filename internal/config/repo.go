package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/cbroglie/mustache"
	"gopkg.in/yaml.v3"
)

// DefaultReferenceComment lists every matched issue with its score.
const DefaultReferenceComment = "Potential duplicates: \n" +
	"{{#issues}}" +
	"- [#{{ number }}] {{ title }} ({{ accuracy }}%) \n" +
	"{{/issues}}"

// Toggle is a setting that holds a value or is switched off with `false`.
type Toggle[T any] struct {
	Value    T
	Disabled bool
}

// On returns an enabled Toggle holding v.
func On[T any](v T) Toggle[T] { return Toggle[T]{Value: v} }

// Enabled reports whether the setting is on.
func (t Toggle[T]) Enabled() bool { return !t.Disabled }

// UnmarshalYAML accepts either a value of type T or the literal false.
func (t *Toggle[T]) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!bool" {
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		if b {
			return fmt.Errorf("line %d: only false can be used to disable a setting", n.Line)
		}
		var zero T
		*t = Toggle[T]{Value: zero, Disabled: true}
		return nil
	}

	var v T
	if err := n.Decode(&v); err != nil {
		return err
	}
	*t = Toggle[T]{Value: v}
	return nil
}

// RepoConfig is the per-repository settings file.
type RepoConfig struct {
	IssueLabel       Toggle[string]  `yaml:"issueLabel"`
	LabelColor       Toggle[string]  `yaml:"labelColor"`
	Threshold        Toggle[float64] `yaml:"threshold"`
	ReferenceComment Toggle[string]  `yaml:"referenceComment"`
}

// DefaultRepoConfig returns the settings used for repositories without a
// settings file. threshold comes from the service configuration.
func DefaultRepoConfig(threshold float64) RepoConfig {
	return RepoConfig{
		IssueLabel:       On("potential-duplicate"),
		LabelColor:       On("cfd3d7"),
		Threshold:        On(threshold),
		ReferenceComment: On(DefaultReferenceComment),
	}
}

var labelColorRe = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

// ParseRepoConfig decodes a settings file on top of defaults.
func ParseRepoConfig(data []byte, defaults RepoConfig) (RepoConfig, error) {
	rc := defaults
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rc); err != nil && !errors.Is(err, io.EOF) {
		return defaults, fmt.Errorf("parse repo config: %w", err)
	}
	if err := rc.Validate(); err != nil {
		return defaults, err
	}
	return rc, nil
}

// Validate checks every enabled setting.
func (rc RepoConfig) Validate() error {
	if rc.IssueLabel.Enabled() && rc.IssueLabel.Value == "" {
		return fmt.Errorf(`"issueLabel" must be a string or false`)
	}
	if rc.LabelColor.Enabled() && !labelColorRe.MatchString(rc.LabelColor.Value) {
		return fmt.Errorf(`"labelColor" must be a hex color or false (got %q)`, rc.LabelColor.Value)
	}
	if rc.Threshold.Enabled() && (rc.Threshold.Value < 0 || rc.Threshold.Value > 1) {
		return fmt.Errorf(`"threshold" must be a float between 0 and 1 or false (got %v)`, rc.Threshold.Value)
	}
	if rc.ReferenceComment.Enabled() {
		if _, err := rc.CommentTemplate(); err != nil {
			return fmt.Errorf(`"referenceComment" must be a valid template or false: %w`, err)
		}
	}
	return nil
}

// CommentTemplate parses ReferenceComment as a Mustache template. It is
// rendered with an issues list whose items carry number, title and accuracy.
func (rc RepoConfig) CommentTemplate() (*mustache.Template, error) {
	return mustache.ParseString(rc.ReferenceComment.Value)
}
