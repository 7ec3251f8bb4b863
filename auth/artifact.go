package auth

import (
	"encoding/json"
	"time"
)

// ArtifactType tags the decrypted payload of a recovery file.
type ArtifactType string

const (
	ArtifactAuth     ArtifactType = "auth"
	ArtifactResetKey ArtifactType = "reset_key"

	legacyArtifactAuth     ArtifactType = "linux_admin_auth"
	legacyArtifactResetKey ArtifactType = "linux_admin_reset_key"
)

// canonical maps the tags written by earlier releases onto the current ones.
func (t ArtifactType) canonical() ArtifactType {
	switch t {
	case legacyArtifactAuth:
		return ArtifactAuth
	case legacyArtifactResetKey:
		return ArtifactResetKey
	}
	return t
}

// artifact is the JSON payload sealed inside an auth file or reset key.
// CreatedAt is only written for reset keys.
type artifact struct {
	Type         ArtifactType `json:"type"`
	PasswordHash string       `json:"passwordHash"`
	Salt         string       `json:"salt"`
	CreatedAt    *time.Time   `json:"createdAt,omitempty"`
	GeneratedAt  time.Time    `json:"generatedAt"`
}

func newArtifact(typ ArtifactType, rec CredentialRecord, at time.Time) artifact {
	a := artifact{
		Type:         typ,
		PasswordHash: rec.PasswordHash,
		Salt:         rec.Salt,
		GeneratedAt:  at.UTC(),
	}
	if typ == ArtifactResetKey {
		created := rec.CreatedAt.UTC()
		a.CreatedAt = &created
	}
	return a
}

func (a artifact) encode() ([]byte, error) {
	return json.Marshal(a)
}

// matches reports whether the artifact was issued for rec's current password.
func (a artifact) matches(rec CredentialRecord) bool {
	return a.PasswordHash == rec.PasswordHash && a.Salt == rec.Salt
}

func parseArtifact(data []byte) (artifact, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return artifact{}, err
	}
	a.Type = a.Type.canonical()
	return a, nil
}
