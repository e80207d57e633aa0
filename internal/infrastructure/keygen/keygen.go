package keygen

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/hilthontt/roomdrop/internal/domain"
)

const (
	// DefaultAlphabet leaves out 7 so keys read unambiguously when typed.
	DefaultAlphabet    = "abcdefghijklmnopqrstuvwxyz012345689"
	DefaultLength      = 4
	DefaultMaxAttempts = 1000
)

// Generator draws fixed-length room keys uniformly from an alphabet.
type Generator struct {
	alphabet    string
	length      int
	maxAttempts int
	random      io.Reader
	charsetLen  *big.Int
}

type Option func(*Generator)

// WithAlphabet is ignored unless CheckAlphabet accepts alphabet.
func WithAlphabet(alphabet string) Option {
	return func(g *Generator) {
		if CheckAlphabet(alphabet) == nil {
			g.alphabet = alphabet
		}
	}
}

// CheckAlphabet reports whether alphabet can back a Generator: at least two
// distinct printable ASCII characters, none of them whitespace.
func CheckAlphabet(alphabet string) error {
	if len(alphabet) < 2 {
		return fmt.Errorf("alphabet needs at least two characters")
	}
	var seen [128]bool
	for i := 0; i < len(alphabet); i++ {
		c := alphabet[i]
		if c <= ' ' || c >= 0x7f {
			return fmt.Errorf("alphabet character %q is not printable ASCII", alphabet[i:i+1])
		}
		if seen[c] {
			return fmt.Errorf("alphabet repeats %q", c)
		}
		seen[c] = true
	}
	return nil
}

func WithLength(length int) Option {
	return func(g *Generator) {
		if length > 0 {
			g.length = length
		}
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(g *Generator) {
		if attempts > 0 {
			g.maxAttempts = attempts
		}
	}
}

// WithRandom replaces crypto/rand.Reader as the entropy source.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.random = r
		}
	}
}

func New(opts ...Option) *Generator {
	g := &Generator{
		alphabet:    DefaultAlphabet,
		length:      DefaultLength,
		maxAttempts: DefaultMaxAttempts,
		random:      rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.charsetLen = big.NewInt(int64(len(g.alphabet)))

	return g
}

// Allocate returns a key for which inUse reports false. Whole candidates are
// resampled on collision; after maxAttempts collisions ErrKeyspaceExhausted
// is returned.
func (g *Generator) Allocate(inUse func(domain.RoomKey) bool) (domain.RoomKey, error) {
	for range g.maxAttempts {
		key, err := g.candidate()
		if err != nil {
			return "", fmt.Errorf("draw room key: %w", err)
		}
		if inUse == nil || !inUse(key) {
			return key, nil
		}
	}

	return "", domain.ErrKeyspaceExhausted
}

func (g *Generator) candidate() (domain.RoomKey, error) {
	var sb strings.Builder
	sb.Grow(g.length)

	for range g.length {
		n, err := rand.Int(g.random, g.charsetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(g.alphabet[n.Int64()])
	}

	return domain.RoomKey(sb.String()), nil
}

// Valid reports whether key has the configured length and only uses
// characters from the alphabet.
func (g *Generator) Valid(key domain.RoomKey) bool {
	if len(key) != g.length {
		return false
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(g.alphabet, key[i]) < 0 {
			return false
		}
	}
	return true
}

// Normalize trims client input and folds it to lower case when the alphabet
// has no upper-case letters.
func (g *Generator) Normalize(raw string) (domain.RoomKey, bool) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", false
	}
	if strings.ToLower(g.alphabet) == g.alphabet {
		key = strings.ToLower(key)
	}

	candidate := domain.RoomKey(key)
	return candidate, g.Valid(candidate)
}

// size is the number of distinct keys the generator can produce.
func (g *Generator) size() *big.Int {
	return new(big.Int).Exp(g.charsetLen, big.NewInt(int64(g.length)), nil)
}
