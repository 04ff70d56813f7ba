package schedule

import (
	"errors"
	"testing"
)

func TestIDGeneratorUnique(t *testing.T) {
	t.Parallel()
	g := NewIDGenerator()
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		id, err := g.Next(func(id string) bool { return seen[id] })
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestIDGeneratorSkipsTaken(t *testing.T) {
	t.Parallel()
	seq := []string{"a", "a", "b"}
	i := 0
	g := &IDGenerator{attempts: 3, newID: func() string {
		id := seq[i%len(seq)]
		i++
		return id
	}}
	id, err := g.Next(func(id string) bool { return id == "a" })
	if err != nil || id != "b" {
		t.Fatalf("got %q, %v", id, err)
	}
}

func TestIDGeneratorExhausted(t *testing.T) {
	t.Parallel()
	g := &IDGenerator{attempts: 4, newID: func() string { return "same" }}
	_, err := g.Next(func(string) bool { return true })
	if !errors.Is(err, ErrIDExhausted) {
		t.Fatalf("err=%v", err)
	}
}
