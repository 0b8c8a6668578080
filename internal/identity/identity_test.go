package identity

import (
	"strings"
	"testing"
)

func TestFromEnv_EnvBeatsExplicitValues(t *testing.T) {
	t.Setenv("QUIZRUSH_USER_ID", "env-id")
	t.Setenv("QUIZRUSH_USER_NAME", "Env Ana")

	u := FromEnv("cfg-id", "Cfg Ana", "").User()
	if u.ID != "env-id" || u.Name != "Env Ana" {
		t.Fatalf("want env identity, got %+v", u)
	}
}

func TestFromEnv_GeneratesStableGuest(t *testing.T) {
	t.Setenv("QUIZRUSH_USER_ID", "")
	t.Setenv("QUIZRUSH_USER_NAME", "")

	p := FromEnv("", "", "")
	u := p.User()
	if !strings.HasPrefix(u.ID, "guest-") {
		t.Fatalf("want guest id, got %q", u.ID)
	}
	if u.Name != u.ID {
		t.Fatalf("guest name defaults to id, got %q", u.Name)
	}
	if again := p.User(); again.ID != u.ID {
		t.Fatalf("identity changed within process: %q vs %q", u.ID, again.ID)
	}
}
