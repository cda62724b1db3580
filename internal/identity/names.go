package identity

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
)

var adjectives = []string{
	"swift", "quiet", "bold", "clever", "witty", "bright", "calm", "eager",
	"fancy", "gentle", "happy", "jolly", "keen", "lively", "merry", "nice",
	"proud", "silly", "brave", "kind", "wise", "cool", "rad", "epic",
	"cosmic", "cyber", "neon", "pixel", "retro", "turbo", "hyper", "mega",
}

var nouns = []string{
	"coder", "dev", "hacker", "ninja", "wizard", "guru", "sage", "monk",
	"fox", "wolf", "bear", "hawk", "owl", "panda", "tiger", "dragon",
	"byte", "pixel", "node", "stack", "loop", "func", "var", "const",
	"coffee", "pizza", "taco", "ramen", "waffle", "donut", "bagel", "toast",
}

// MaxCachedNameLength bounds names a client may ask to reuse.
const MaxCachedNameLength = 30

var cachedNamePattern = regexp.MustCompile(`^([a-z]+)_([a-z]+)\d{1,2}$`)

// Generate returns a name of the form adjective_noun<0-99>.
func Generate(rng *rand.Rand) string {
	adj := adjectives[rng.IntN(len(adjectives))]
	noun := nouns[rng.IntN(len(nouns))]
	return fmt.Sprintf("%s_%s%d", adj, noun, rng.IntN(100))
}

// ValidCachedName reports whether name could have been produced by Generate.
func ValidCachedName(name string) bool {
	if name == "" || len(name) > MaxCachedNameLength {
		return false
	}
	parts := cachedNamePattern.FindStringSubmatch(name)
	if parts == nil {
		return false
	}
	return slices.Contains(adjectives, parts[1]) && slices.Contains(nouns, parts[2])
}
