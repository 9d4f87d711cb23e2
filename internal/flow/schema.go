package flow

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Schema is a declarative validator attached to a page. Validate returns
// the list of failure messages; an empty list means the value passed.
type Schema interface {
	Validate(value any) []string
}

// Rules composes schema rules; all of them must pass.
type Rules []Schema

func (r Rules) Validate(value any) []string {
	var msgs []string
	for _, rule := range r {
		msgs = append(msgs, rule.Validate(value)...)
	}
	return msgs
}

// RuleFunc adapts a function to the Schema interface.
type RuleFunc func(value any) []string

func (f RuleFunc) Validate(value any) []string { return f(value) }

// NonEmpty requires a non-blank string value.
func NonEmpty() Schema {
	return RuleFunc(func(value any) []string {
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return []string{"a non-empty text answer is required"}
		}
		return nil
	})
}

// MinLen requires a string of at least n characters.
func MinLen(n int) Schema {
	return RuleFunc(func(value any) []string {
		s, ok := value.(string)
		if !ok || utf8.RuneCountInString(s) < n {
			return []string{fmt.Sprintf("must be at least %d characters", n)}
		}
		return nil
	})
}

// MaxLen requires a string of at most n characters.
func MaxLen(n int) Schema {
	return RuleFunc(func(value any) []string {
		s, ok := value.(string)
		if !ok || utf8.RuneCountInString(s) > n {
			return []string{fmt.Sprintf("must be at most %d characters", n)}
		}
		return nil
	})
}

// Matches requires the string value to match the pattern.
func Matches(pattern string, message string) Schema {
	re := regexp.MustCompile(pattern)
	return RuleFunc(func(value any) []string {
		s, ok := value.(string)
		if !ok || !re.MatchString(s) {
			return []string{message}
		}
		return nil
	})
}
