// Package identity supplies the stable user id and display name required
// before any outbound event that names the player.
package identity

import (
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// User is the read-only identity handed to controllers.
type User struct {
	ID       string
	Name     string
	ImageURL string
}

// Provider yields the current user. Implementations must be ready before
// the first outbound event that needs a userId.
type Provider interface {
	User() User
}

// Static wraps a fixed identity.
type Static struct{ U User }

func (s Static) User() User { return s.U }

// FromEnv builds an identity from QUIZRUSH_USER_* variables, falling back
// to explicit values and finally to a generated guest identity that stays
// stable for the process lifetime.
func FromEnv(id, name, imageURL string) Provider {
	if v := os.Getenv("QUIZRUSH_USER_ID"); v != "" {
		id = v
	}
	if v := os.Getenv("QUIZRUSH_USER_NAME"); v != "" {
		name = v
	}
	if v := os.Getenv("QUIZRUSH_USER_IMAGE_URL"); v != "" {
		imageURL = v
	}

	if id == "" {
		id = "guest-" + uuid.New().String()[:8]
		log.Info().Str("user_id", id).Msg("no user id configured, generated guest identity")
	}
	if name == "" {
		name = id
	}

	return Static{U: User{ID: id, Name: name, ImageURL: imageURL}}
}
