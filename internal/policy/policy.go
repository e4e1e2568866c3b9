package policy

import (
	"fmt"
	"sort"
	"strings"

	dserrors "github.com/systmms/laps/internal/errors"
)

// Class is a named character class a password may be required to contain.
type Class string

const (
	ClassUpper  Class = "upper"
	ClassLower  Class = "lower"
	ClassDigit  Class = "digit"
	ClassSymbol Class = "symbol"
)

// Classes lists every class in generation order.
var Classes = []Class{ClassUpper, ClassLower, ClassDigit, ClassSymbol}

var classAlphabets = map[Class]string{
	ClassUpper:  "ABCDEFGHIJKLMNOPQRSTUVWXYZ",
	ClassLower:  "abcdefghijklmnopqrstuvwxyz",
	ClassDigit:  "0123456789",
	ClassSymbol: "!#$%&()*+,-./:;<=>?@[]^_{|}~",
}

// ExclusionSets are the named character sets a config may exclude by name.
var ExclusionSets = map[string]string{
	"ambiguous": "0O1lI|",
	"quotes":    "\"'`",
	"shell":     "$`\\!&;|<>(){}*?~#",
	"brackets":  "()[]{}<>",
	"url":       ":/?#[]@!$&'()*+,;=%",
}

// Config is the immutable password policy loaded once at startup.
type Config struct {
	Length        int           `yaml:"length"`
	Required      map[Class]int `yaml:"required,omitempty"`
	ExcludeChars  string        `yaml:"exclude_chars,omitempty"`
	ExclusionSets []string      `yaml:"exclusion_sets,omitempty"`
}

// DefaultConfig mirrors the defaults shipped in the sample configuration.
func DefaultConfig() Config {
	return Config{
		Length: 16,
		Required: map[Class]int{
			ClassUpper:  1,
			ClassLower:  1,
			ClassDigit:  1,
			ClassSymbol: 1,
		},
	}
}

// excluded returns the set of characters removed from every alphabet.
func (c Config) excluded() (map[rune]bool, error) {
	out := make(map[rune]bool)
	for _, r := range c.ExcludeChars {
		out[r] = true
	}
	for _, name := range c.ExclusionSets {
		set, ok := ExclusionSets[name]
		if !ok {
			return nil, dserrors.New(dserrors.KindUnsatisfiable, "policy",
				fmt.Sprintf("unknown exclusion set %q (known: %s)", name, strings.Join(KnownExclusionSets(), ", ")))
		}
		for _, r := range set {
			out[r] = true
		}
	}
	return out, nil
}

// alphabets returns the per-class alphabets after exclusions.
func (c Config) alphabets() (map[Class][]rune, error) {
	excluded, err := c.excluded()
	if err != nil {
		return nil, err
	}
	out := make(map[Class][]rune, len(Classes))
	for _, class := range Classes {
		for _, r := range classAlphabets[class] {
			if !excluded[r] {
				out[class] = append(out[class], r)
			}
		}
	}
	return out, nil
}

// Check reports whether the constraints are jointly satisfiable.
func (c Config) Check() error {
	if c.Length < 1 {
		return dserrors.New(dserrors.KindUnsatisfiable, "policy", fmt.Sprintf("length must be at least 1, got %d", c.Length))
	}
	alphabets, err := c.alphabets()
	if err != nil {
		return err
	}

	sum := 0
	total := 0
	for _, class := range Classes {
		total += len(alphabets[class])
	}
	for class, min := range c.Required {
		if _, ok := classAlphabets[class]; !ok {
			return dserrors.New(dserrors.KindUnsatisfiable, "policy", fmt.Sprintf("unknown character class %q", class))
		}
		if min < 0 {
			return dserrors.New(dserrors.KindUnsatisfiable, "policy", fmt.Sprintf("class %s minimum is negative", class))
		}
		if min > 0 && len(alphabets[class]) == 0 {
			return dserrors.New(dserrors.KindUnsatisfiable, "policy", fmt.Sprintf("class %s requires %d characters but every %s character is excluded", class, min, class))
		}
		sum += min
	}
	if sum > c.Length {
		return dserrors.New(dserrors.KindUnsatisfiable, "policy", fmt.Sprintf("required class minimums sum to %d, more than length %d", sum, c.Length))
	}
	if total == 0 {
		return dserrors.New(dserrors.KindUnsatisfiable, "policy", "every character is excluded")
	}
	return nil
}

// Validate checks a password against the policy. It is used on generated
// passwords as a final gate and on operator-supplied ones.
func (c Config) Validate(password string) error {
	runes := []rune(password)
	if len(runes) != c.Length {
		return dserrors.UserError{
			Message:    fmt.Sprintf("Password must be exactly %d characters, got %d", c.Length, len(runes)),
			Suggestion: "Adjust password.length",
		}
	}

	excluded, err := c.excluded()
	if err != nil {
		return err
	}
	counts := make(map[Class]int)
	for _, r := range runes {
		if excluded[r] {
			return dserrors.UserError{
				Message:    "Password contains an excluded character",
				Suggestion: "Remove the character or relax password.exclude_chars / exclusion_sets",
			}
		}
		if class, ok := ClassOf(r); ok {
			counts[class]++
		}
	}

	for _, class := range Classes {
		if min := c.Required[class]; counts[class] < min {
			return dserrors.UserError{
				Message:    fmt.Sprintf("Password must contain at least %d %s characters", min, class),
				Suggestion: fmt.Sprintf("Include at least %d %s characters", min, class),
			}
		}
	}
	return nil
}

// ClassOf returns the class r belongs to.
func ClassOf(r rune) (Class, bool) {
	for _, class := range Classes {
		if strings.ContainsRune(classAlphabets[class], r) {
			return class, true
		}
	}
	return "", false
}

// KnownExclusionSets returns the sorted names of ExclusionSets.
func KnownExclusionSets() []string {
	names := make([]string, 0, len(ExclusionSets))
	for name := range ExclusionSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
