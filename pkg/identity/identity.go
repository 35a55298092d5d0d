// Package identity keeps the pseudonymous identity of a viewer in a local
// key/value store. Identities are generated, never registered.
package identity

import (
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"math/rand"
	"net/url"
	"strings"
	"syncstream.me/model"
)

// StorageKey is the key the identity record is kept under
const StorageKey = "syncstream_user"

const avatarBaseURL = "https://api.dicebear.com/8.x/fun-emoji/svg?emoji="

var (
	Adjectives = []string{"Swift", "Silent", "Clever", "Brave", "Wise", "Lucky", "Happy", "Gentle", "Proud", "Funny"}
	Animals    = []string{"Cat", "Dog", "Shark", "Lion", "Tiger", "Bear", "Fox", "Panda"}

	animalEmojis = map[string]string{
		"Cat":   "🐱",
		"Dog":   "🐶",
		"Shark": "🦈",
		"Lion":  "🦁",
		"Tiger": "🐯",
		"Bear":  "🐻",
		"Fox":   "🦊",
		"Panda": "🐼",
	}
)

// Store is a string key/value store
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// AvatarURL returns the avatar of an animal, unknown animals get a smiley
func AvatarURL(animal string) string {
	emoji, ok := animalEmojis[animal]
	if !ok {
		emoji = "😀"
	}
	return avatarBaseURL + url.QueryEscape(emoji)
}

// Generate creates a new random identity
func Generate() model.Identity {
	animal := Animals[rand.Intn(len(Animals))]
	return model.Identity{
		ID:     uuid.NewString(),
		Name:   Adjectives[rand.Intn(len(Adjectives))] + " " + animal,
		Avatar: AvatarURL(animal),
	}
}

// Ensure loads the stored identity. Missing, broken or outdated records are
// replaced by a new identity, a stale avatar is refreshed in place.
func Ensure(store Store) (model.Identity, error) {
	raw, ok, err := store.Get(StorageKey)
	if err != nil {
		return model.Identity{}, err
	}

	var user model.Identity
	if ok {
		if err = json.Unmarshal([]byte(raw), &user); err != nil {
			log.Warnf("stored identity is corrupt: %v", err)
			user = model.Identity{}
		}
	}

	switch {
	case user.ID == "" || user.Name == "" || user.Avatar == "" || !knownAnimal(user.Name):
		user = Generate()
	case user.Avatar != AvatarURL(animalOf(user.Name)):
		user.Avatar = AvatarURL(animalOf(user.Name))
	default:
		return user, nil
	}

	if err = save(store, user); err != nil {
		return model.Identity{}, err
	}
	return user, nil
}

func save(store Store, user model.Identity) error {
	b, err := json.Marshal(&user)
	if err != nil {
		return err
	}
	if err = store.Set(StorageKey, string(b)); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func animalOf(name string) string {
	parts := strings.Split(name, " ")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func knownAnimal(name string) bool {
	_, ok := animalEmojis[animalOf(name)]
	return ok
}
