package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

const profileFile = "profile.json"

// Profile identifies the local account on a specific relay. The bearer
// token is short-lived relay state, not key material, so it lives here in
// the clear.
type Profile struct {
	ServerURL string        `json:"server_url"`
	UserID    domain.UserID `json:"user_id"`
	Username  string        `json:"username"`
	Token     string        `json:"token"`
}

// SaveProfile writes the profile under the config directory.
func SaveProfile(home string, p Profile) error {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return oops.Code(domain.CodeInternal).Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(home, profileFile), raw, 0o600); err != nil {
		return oops.Code(domain.CodeInternal).Wrap(err)
	}
	return nil
}

// LoadProfile reads the profile, or not-found when none exists.
func LoadProfile(home string) (Profile, error) {
	raw, err := os.ReadFile(filepath.Join(home, profileFile))
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, oops.Code(domain.CodeNotFound).Errorf("no profile; run register or login first")
	}
	if err != nil {
		return Profile{}, oops.Code(domain.CodeInternal).Wrap(err)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, oops.Code(domain.CodeInternal).Wrap(err)
	}
	return p, nil
}
