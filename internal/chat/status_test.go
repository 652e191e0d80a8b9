package chat

import "testing"

func TestRotatorNeverRepeatsConsecutively(t *testing.T) {
	r := NewRotator()
	prev := r.Next()
	for i := 0; i < 200; i++ {
		next := r.Next()
		if next == prev {
			t.Fatalf("phrase %q repeated back to back", next)
		}
		prev = next
	}
}

func TestRotatorDrawsFromKnownPhrases(t *testing.T) {
	known := make(map[string]bool, len(statusTexts))
	for _, text := range statusTexts {
		known[text] = true
	}

	r := NewRotator()
	for i := 0; i < 50; i++ {
		if text := r.Next(); !known[text] {
			t.Fatalf("unknown phrase %q", text)
		}
	}
}
