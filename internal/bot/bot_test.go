package bot

import (
	"math/rand"
	"testing"
)

func TestGenerate(t *testing.T) {
	g := NewRandomGenerator(rand.NewSource(1))
	interests := []string{"Gaming", "Music", "Art"}

	id, profile := g.Generate(interests)

	if !IsBotID(id) {
		t.Errorf("expected bot id prefix, got %q", id)
	}
	if profile.Nickname == "" {
		t.Error("expected a nickname")
	}
	if profile.Age < 18 || profile.Age > 34 {
		t.Errorf("age %d outside expected range", profile.Age)
	}
	if len(profile.Interests) == 0 || len(profile.Interests) > 2 {
		t.Errorf("expected 1-2 flavor interests, got %v", profile.Interests)
	}
	for _, tag := range profile.Interests {
		found := false
		for _, candidate := range interests {
			if tag == candidate {
				found = true
			}
		}
		if !found {
			t.Errorf("interest %q not drawn from the configured list", tag)
		}
	}
}

func TestGenerateUniqueIDs(t *testing.T) {
	g := NewRandomGenerator(rand.NewSource(1))
	a, _ := g.Generate(nil)
	b, _ := g.Generate(nil)
	if a == b {
		t.Error("successive bot ids must be unique")
	}
}

func TestGenerateEmptyInterestList(t *testing.T) {
	g := NewRandomGenerator(rand.NewSource(1))
	_, profile := g.Generate(nil)
	if len(profile.Interests) != 0 {
		t.Errorf("expected no interests when the list is empty, got %v", profile.Interests)
	}
}

func TestIsBotID(t *testing.T) {
	if !IsBotID("bot-123") {
		t.Error("bot- prefixed ids are bot ids")
	}
	if IsBotID("4f5c-bot") {
		t.Error("non-prefixed ids are not bot ids")
	}
}
