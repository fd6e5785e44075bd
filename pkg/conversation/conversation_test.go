package conversation

import (
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"user", RoleUser, true},
		{" Assistant ", RoleAssistant, true},
		{"SYSTEM", RoleSystem, true},
		{"tool", Role("tool"), false},
		{"", Role(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRole(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseRole(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestConversation(t *testing.T) {
	c := New("abc", time.Now())
	c.Turns = []Turn{
		NewTurn(RoleSystem, "be brief"),
		NewTurn(RoleAssistant, "Hello Sam!"),
		NewTurn(RoleUser, "one"),
		NewTurn(RoleAssistant, "a"),
		NewTurn(RoleUser, "two"),
		NewTurn(RoleUser, "three"),
		NewTurn(RoleUser, "four"),
	}

	t.Run("first assistant", func(t *testing.T) {
		got, ok := c.FirstAssistant()
		if !ok || got.Content != "Hello Sam!" {
			t.Errorf("FirstAssistant = %q, %v", got.Content, ok)
		}
	})

	t.Run("last user keeps order", func(t *testing.T) {
		got := c.LastUser(3)
		if len(got) != 3 {
			t.Fatalf("expected 3 turns, got %d", len(got))
		}
		want := []string{"two", "three", "four"}
		for i, turn := range got {
			if turn.Content != want[i] {
				t.Errorf("turn %d = %q, want %q", i, turn.Content, want[i])
			}
		}
	})

	t.Run("last user zero", func(t *testing.T) {
		if got := c.LastUser(0); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("clone does not alias", func(t *testing.T) {
		cp := c.Clone()
		cp.Turns[0].Content = "changed"
		if c.Turns[0].Content == "changed" {
			t.Error("clone shares backing array")
		}
	})

	t.Run("visible drops system", func(t *testing.T) {
		if got := Visible(c.Turns); len(got) != len(c.Turns)-1 {
			t.Errorf("expected %d visible turns, got %d", len(c.Turns)-1, len(got))
		}
	})
}

func TestFirstAssistantMissing(t *testing.T) {
	c := Conversation{Turns: []Turn{NewTurn(RoleUser, "hi")}}
	if _, ok := c.FirstAssistant(); ok {
		t.Error("expected no assistant turn")
	}
}
