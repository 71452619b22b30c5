package apikey

import (
	"math/rand/v2"
	"strings"
)

// DefaultPrefix marks generated secrets as belonging to this dashboard.
const DefaultPrefix = "tvly-"

const (
	secretLen      = 32
	secretAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Generator produces bearer-like secrets: a fixed prefix followed by 32
// base-36 characters.
//
// The random source is math/rand and is NOT suitable for real credentials.
type Generator struct {
	prefix string
	intN   func(n int) int
}

// NewGenerator returns a Generator using prefix, or DefaultPrefix when empty.
func NewGenerator(prefix string) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{prefix: prefix, intN: rand.IntN}
}

// Prefix returns the fixed prefix of generated secrets.
func (g *Generator) Prefix() string { return g.prefix }

// Generate returns a new secret.
func (g *Generator) Generate() string {
	var b strings.Builder
	b.Grow(len(g.prefix) + secretLen)
	b.WriteString(g.prefix)
	for range secretLen {
		b.WriteByte(secretAlphabet[g.intN(len(secretAlphabet))])
	}
	return b.String()
}
