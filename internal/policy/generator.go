package policy

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// Generator produces passwords for a policy.
type Generator struct {
	config Config
	rand   io.Reader
}

// NewGenerator checks the policy once and returns a generator for it.
func NewGenerator(config Config) (*Generator, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	return &Generator{config: config, rand: rand.Reader}, nil
}

// Config returns the policy the generator was built with.
func (g *Generator) Config() Config {
	return g.config
}

// Generate returns a password of exactly Length characters drawn from the
// allowed alphabet, with at least the required count of every class.
func (g *Generator) Generate() (string, error) {
	alphabets, err := g.config.alphabets()
	if err != nil {
		return "", err
	}

	var all []rune
	for _, class := range Classes {
		all = append(all, alphabets[class]...)
	}

	out := make([]rune, 0, g.config.Length)
	for _, class := range Classes {
		for i := 0; i < g.config.Required[class]; i++ {
			r, err := g.pick(alphabets[class])
			if err != nil {
				return "", err
			}
			out = append(out, r)
		}
	}
	for len(out) < g.config.Length {
		r, err := g.pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, r)
	}

	// Fisher-Yates so required characters are not clustered at the front.
	for i := len(out) - 1; i > 0; i-- {
		j, err := g.index(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	password := string(out)
	if err := g.config.Validate(password); err != nil {
		return "", fmt.Errorf("generated password failed policy validation: %w", err)
	}
	return password, nil
}

func (g *Generator) pick(alphabet []rune) (rune, error) {
	i, err := g.index(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func (g *Generator) index(n int) (int, error) {
	v, err := rand.Int(g.rand, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return int(v.Int64()), nil
}
