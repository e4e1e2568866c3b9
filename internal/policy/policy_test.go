package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/laps/internal/errors"
)

func fourClasses() map[Class]int {
	return map[Class]int{ClassUpper: 1, ClassLower: 1, ClassDigit: 1, ClassSymbol: 1}
}

func TestConfig_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "default_config",
			config: DefaultConfig(),
		},
		{
			name:   "length_equals_sum_of_minimums",
			config: Config{Length: 4, Required: fourClasses()},
		},
		{
			name:    "minimums_exceed_length",
			config:  Config{Length: 3, Required: fourClasses()},
			wantErr: true,
		},
		{
			name:    "zero_length",
			config:  Config{Length: 0},
			wantErr: true,
		},
		{
			name:    "required_class_fully_excluded",
			config:  Config{Length: 8, Required: map[Class]int{ClassDigit: 1}, ExcludeChars: "0123456789"},
			wantErr: true,
		},
		{
			name:    "unknown_exclusion_set",
			config:  Config{Length: 8, ExclusionSets: []string{"emoji"}},
			wantErr: true,
		},
		{
			name:    "unknown_class",
			config:  Config{Length: 8, Required: map[Class]int{"greek": 1}},
			wantErr: true,
		},
		{
			name:    "negative_minimum",
			config:  Config{Length: 8, Required: map[Class]int{ClassUpper: -1}},
			wantErr: true,
		},
		{
			name:   "excluded_class_not_required",
			config: Config{Length: 8, Required: map[Class]int{ClassLower: 2}, ExcludeChars: classAlphabets[ClassSymbol]},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Check()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, dserrors.KindUnsatisfiable, dserrors.KindOf(err))
		})
	}
}

func TestNewGenerator_Unsatisfiable(t *testing.T) {
	t.Parallel()

	_, err := NewGenerator(Config{Length: 2, Required: fourClasses()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dserrors.New(dserrors.KindUnsatisfiable, "", "")))
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()

	config := Config{
		Length:        12,
		Required:      fourClasses(),
		ExcludeChars:  "xyz",
		ExclusionSets: []string{"ambiguous", "quotes"},
	}
	gen, err := NewGenerator(config)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		pw, err := gen.Generate()
		require.NoError(t, err)
		assert.Len(t, []rune(pw), 12)
		assert.NoError(t, config.Validate(pw))
		assert.False(t, strings.ContainsAny(pw, "xyz0O1lI|\"'`"))
		seen[pw] = true
	}
	assert.Greater(t, len(seen), 45, "passwords should not repeat")
}

func TestGenerator_BoundaryLengthEqualsMinimums(t *testing.T) {
	t.Parallel()

	gen, err := NewGenerator(Config{Length: 4, Required: fourClasses()})
	require.NoError(t, err)

	pw, err := gen.Generate()
	require.NoError(t, err)

	counts := make(map[Class]int)
	for _, r := range pw {
		class, ok := ClassOf(r)
		require.True(t, ok)
		counts[class]++
	}
	assert.Equal(t, fourClasses(), counts)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	config := Config{Length: 8, Required: map[Class]int{ClassUpper: 1, ClassDigit: 2}, ExcludeChars: "!"}

	assert.NoError(t, config.Validate("Abcdef12"))
	assert.Error(t, config.Validate("Abcdef1"), "too short")
	assert.Error(t, config.Validate("abcdef12"), "missing upper")
	assert.Error(t, config.Validate("Abcdefg1"), "one digit")
	assert.Error(t, config.Validate("Abcde!12"), "excluded char")
}

func TestKnownExclusionSets(t *testing.T) {
	t.Parallel()

	names := KnownExclusionSets()
	assert.Equal(t, len(ExclusionSets), len(names))
	assert.IsIncreasing(t, names)
}

// Property: every satisfiable policy yields passwords of exactly Length runes
// that meet each class minimum and contain no excluded character; every
// policy whose minimums exceed Length is rejected as Unsatisfiable.
func TestGenerateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	sets := KnownExclusionSets()

	properties.Property("generated passwords satisfy the policy", prop.ForAll(
		func(length, upper, lower, digit, symbol int, exclude string, setMask int) bool {
			config := Config{
				Length: length,
				Required: map[Class]int{
					ClassUpper: upper, ClassLower: lower, ClassDigit: digit, ClassSymbol: symbol,
				},
				ExcludeChars: exclude,
			}
			for i, name := range sets {
				if setMask&(1<<i) != 0 {
					config.ExclusionSets = append(config.ExclusionSets, name)
				}
			}

			g, err := NewGenerator(config)
			if err != nil {
				return dserrors.KindOf(err) == dserrors.KindUnsatisfiable
			}
			if upper+lower+digit+symbol > length {
				return false
			}

			pw, err := g.Generate()
			if err != nil {
				return false
			}
			if len([]rune(pw)) != length {
				return false
			}
			excluded, _ := config.excluded()
			counts := make(map[Class]int)
			for _, r := range pw {
				if excluded[r] {
					return false
				}
				class, _ := ClassOf(r)
				counts[class]++
			}
			for class, min := range config.Required {
				if counts[class] < min {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 48),
		gen.IntRange(0, 6),
		gen.IntRange(0, 6),
		gen.IntRange(0, 6),
		gen.IntRange(0, 6),
		gen.AlphaString(),
		gen.IntRange(0, (1<<len(sets))-1),
	))

	properties.Property("length equal to the sum of minimums is satisfiable", prop.ForAll(
		func(upper, lower, digit, symbol int) bool {
			sum := upper + lower + digit + symbol
			if sum == 0 {
				return true
			}
			config := Config{Length: sum, Required: map[Class]int{
				ClassUpper: upper, ClassLower: lower, ClassDigit: digit, ClassSymbol: symbol,
			}}
			g, err := NewGenerator(config)
			if err != nil {
				return false
			}
			pw, err := g.Generate()
			return err == nil && config.Validate(pw) == nil
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
