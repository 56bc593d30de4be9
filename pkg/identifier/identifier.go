// Package identifier generates collision-resistant, entity-prefixed
// identifiers and validates their shape. Identifiers have the form
// PREFIX_payload where the payload is a random alphanumeric string.
package identifier

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
)

const (
	// DefaultLength is the payload length used when none is requested.
	DefaultLength = 16

	// MinLength and MaxLength bound the payload length accepted by Valid.
	MinLength = 8
	MaxLength = 64

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Generator produces prefixed identifiers for registered entity types.
// It is safe for concurrent use.
type Generator struct {
	mu       sync.RWMutex
	prefixes map[string]string
}

// NewGenerator creates a Generator with the given entity-type-to-prefix map.
// The map may be nil; prefixes can be registered later with SetPrefixes.
func NewGenerator(prefixes map[string]string) *Generator {
	g := &Generator{prefixes: make(map[string]string, len(prefixes))}
	for entity, prefix := range prefixes {
		g.prefixes[entity] = prefix
	}
	return g
}

// SetPrefixes registers prefixes for entity types. Later calls overwrite
// earlier registrations for the same type.
func (g *Generator) SetPrefixes(prefixes map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for entity, prefix := range prefixes {
		g.prefixes[entity] = prefix
	}
}

// Prefix returns the registered prefix for an entity type.
func (g *Generator) Prefix(entity string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	prefix, ok := g.prefixes[entity]
	return prefix, ok
}

// Option configures a single Generate call.
type Option func(*genOptions)

type genOptions struct {
	length int
}

// WithLength overrides the payload length for one Generate call.
func WithLength(n int) Option {
	return func(o *genOptions) {
		o.length = n
	}
}

// Generate returns a new identifier for the entity type, composed of the
// registered prefix, an underscore, and a random alphanumeric payload.
// It fails if the entity type has no registered prefix.
func (g *Generator) Generate(entity string, opts ...Option) (string, error) {
	prefix, ok := g.Prefix(entity)
	if !ok {
		return "", fmt.Errorf("identifier: no prefix registered for entity type %q", entity)
	}

	options := genOptions{length: DefaultLength}
	for _, opt := range opts {
		opt(&options)
	}
	if options.length < MinLength {
		options.length = MinLength
	}
	if options.length > MaxLength {
		options.length = MaxLength
	}

	payload, err := randomPayload(options.length)
	if err != nil {
		return "", fmt.Errorf("identifier: reading random source: %w", err)
	}
	return prefix + "_" + payload, nil
}

// Valid reports whether id is structurally valid for the entity type:
// registered prefix, underscore separator, alphanumeric payload within
// length bounds. It never consults previously issued identifiers.
func (g *Generator) Valid(id, entity string) bool {
	prefix, ok := g.Prefix(entity)
	if !ok {
		return false
	}
	payload, ok := strings.CutPrefix(id, prefix+"_")
	if !ok {
		return false
	}
	if len(payload) < MinLength || len(payload) > MaxLength {
		return false
	}
	for _, r := range payload {
		if !isAlphanumeric(r) {
			return false
		}
	}
	return true
}

func isAlphanumeric(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// randomPayload draws n characters from the alphanumeric alphabet using
// crypto/rand. Bytes outside the largest multiple of len(alphabet) are
// discarded to keep the distribution uniform.
func randomPayload(n int) (string, error) {
	const limit = byte(256 - 256%len(alphabet)) // 248: reject above to avoid modulo bias

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
