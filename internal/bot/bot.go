// Package bot synthesizes partner profiles for the bot-fallback path: when a
// user has waited past the bot timeout with no human candidate, the hub pairs
// them with a synthetic partner wearing a randomly generated display profile.
// This is cosmetic flavor only, so the generator is a pluggable strategy.
package bot

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/paircast/chat-app/internal/protocol"
)

// IDPrefix marks synthetic partner ids so they are distinguishable from real
// connection ids everywhere in logs and session records.
const IDPrefix = "bot-"

// IsBotID reports whether an id belongs to a synthetic partner.
func IsBotID(id string) bool {
	return strings.HasPrefix(id, IDPrefix)
}

// Generator produces synthetic partner identities.
type Generator interface {
	// Generate returns a fresh synthetic partner id and display profile.
	// interests is the site-wide interest list to sample flavor tags from.
	Generate(interests []string) (id string, profile *protocol.Profile)
}

var nicknames = []string{
	"Alex", "Sam", "Jordan", "Taylor", "Casey", "Riley", "Morgan",
	"Jamie", "Robin", "Charlie", "Dana", "Quinn", "Skyler", "Avery",
}

var genders = []string{"male", "female"}

// RandomGenerator draws nickname, gender, age and a couple of interest tags
// from fixed pools.
type RandomGenerator struct {
	rng *rand.Rand
}

// NewRandomGenerator creates a RandomGenerator seeded from src, or from the
// global source when src is nil.
func NewRandomGenerator(src rand.Source) *RandomGenerator {
	if src == nil {
		return &RandomGenerator{rng: rand.New(rand.NewSource(rand.Int63()))}
	}
	return &RandomGenerator{rng: rand.New(src)}
}

// Generate implements Generator.
func (g *RandomGenerator) Generate(interests []string) (string, *protocol.Profile) {
	id := IDPrefix + uuid.New().String()

	profile := &protocol.Profile{
		Nickname: fmt.Sprintf("%s%d", nicknames[g.rng.Intn(len(nicknames))], 10+g.rng.Intn(90)),
		Gender:   genders[g.rng.Intn(len(genders))],
		Age:      18 + g.rng.Intn(17), // 18-34
	}

	// Sample up to two flavor interests without repeats.
	if len(interests) > 0 {
		n := 1 + g.rng.Intn(2)
		perm := g.rng.Perm(len(interests))
		for i := 0; i < n && i < len(perm); i++ {
			profile.Interests = append(profile.Interests, interests[perm[i]])
		}
	}

	return id, profile
}
