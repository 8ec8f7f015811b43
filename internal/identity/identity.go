// Package identity implements the encrypted-at-rest identity store
// described in spec §4.C: a signing keypair with user-visible metadata,
// deterministically regenerable from a recovery mnemonic.
package identity

import (
	"crypto/ed25519"
	"crypto/sha512"
	"time"

	"github.com/gravitational/trace"
	"github.com/sethvargo/go-diceware/diceware"
	"github.com/sirupsen/logrus"

	"github.com/nahma/sidecar/internal/cryptoutil"
	"github.com/nahma/sidecar/internal/keys"
	"github.com/nahma/sidecar/internal/wire"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sidecar:identity"})

const mnemonicWordCount = 12

// Device records one client install associated with an identity.
type Device struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	LastSeen  time.Time `json:"lastSeen"`
	IsCurrent bool      `json:"isCurrent"`
}

// Identity is the in-memory, decrypted record held for the lifetime of a
// process; it is never itself written to disk (Blob is).
type Identity struct {
	PublicKey ed25519.PublicKey  `json:"-"`
	SecretKey ed25519.PrivateKey `json:"-"`
	Mnemonic  string             `json:"-"`
	Handle    string             `json:"handle"`
	Color     string             `json:"color"`
	Icon      string             `json:"icon"`
	CreatedAt time.Time          `json:"createdAt"`
	Devices   []Device           `json:"devices"`
}

// Blob is the on-disk encrypted envelope: {version, encrypted}.
type Blob struct {
	Version   int    `json:"version"`
	Encrypted string `json:"encrypted"` // base64 of the sealed payload, produced by Export
}

const currentBlobVersion = 1

var (
	// ErrNoIdentity is returned by Load when no identity has been created yet.
	ErrNoIdentity = wire.NotFound("no identity found")
	// ErrWrongPassword is returned by Import/Load when the passphrase
	// fails to authenticate the stored blob.
	ErrWrongPassword = wire.PermissionDenied("wrong password")
	// ErrUnsupportedVersion is returned when a blob declares a version
	// this build does not understand.
	ErrUnsupportedVersion = wire.Validation("unsupported identity blob version")
)

// mnemonicSeed derives a deterministic 32-byte Ed25519 seed from a
// recovery mnemonic so Import can regenerate the exact same keypair.
func mnemonicSeed(mnemonic string) []byte {
	sum := sha512.Sum512([]byte(mnemonic))
	return sum[:32]
}

// Create generates a brand-new identity: a fresh Ed25519 keypair, a fresh
// recovery mnemonic from which that keypair is deterministically
// reproducible, and the caller-supplied display metadata.
func Create(handle, color, icon string, now time.Time) (*Identity, error) {
	words, err := diceware.Generate(mnemonicWordCount)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	mnemonic := joinWords(words)

	seed := mnemonicSeed(mnemonic)
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	return &Identity{
		PublicKey: pub,
		SecretKey: priv,
		Mnemonic:  mnemonic,
		Handle:    handle,
		Color:     color,
		Icon:      icon,
		CreatedAt: now,
	}, nil
}

func joinWords(words []string) string {
	out := words[0]
	for _, w := range words[1:] {
		out += " " + w
	}
	return out
}

// UpdateFields enumerates the only fields Update may ever mutate;
// anything else present in a caller's request is silently dropped so
// secret material (keys, mnemonic) can never be overwritten by mistake.
type UpdateFields struct {
	Handle  *string
	Color   *string
	Icon    *string
	Devices []Device
}

// Update applies fields to id, touching only {handle, color, icon,
// devices} regardless of what else a caller might have populated on
// UpdateFields — there is no field in UpdateFields for anything else.
func (id *Identity) Update(fields UpdateFields) {
	if fields.Handle != nil {
		id.Handle = *fields.Handle
	}
	if fields.Color != nil {
		id.Color = *fields.Color
	}
	if fields.Icon != nil {
		id.Icon = *fields.Icon
	}
	if fields.Devices != nil {
		id.Devices = fields.Devices
	}
}

// Touch records device as the current device, marking every other known
// device as no longer current.
func (id *Identity) Touch(deviceID, platform string, now time.Time) {
	for i := range id.Devices {
		id.Devices[i].IsCurrent = false
	}
	for i := range id.Devices {
		if id.Devices[i].ID == deviceID {
			id.Devices[i].LastSeen = now
			id.Devices[i].IsCurrent = true
			return
		}
	}
	id.Devices = append(id.Devices, Device{
		ID:        deviceID,
		Platform:  platform,
		LastSeen:  now,
		IsCurrent: true,
	})
}

// exportPayload is encrypted under KDF(password) and base64-embedded in a Blob.
type exportPayload struct {
	Mnemonic string `json:"mnemonic"`
	Handle   string `json:"handle"`
	Color    string `json:"color"`
	Icon     string `json:"icon"`
}

// passwordKey derives the export blob's AEAD key through the same
// memory-hard Argon2id KDF that guards workspace/folder/document keys
// (spec §4.B), rather than a bare hash of the password.
func passwordKey(password string) []byte {
	return keys.PasswordKey(password)
}

// Export encrypts id's mnemonic and display metadata under password,
// returning the {version, encrypted} blob written to disk.
func Export(id *Identity, password string) (Blob, error) {
	payload := exportPayload{Mnemonic: id.Mnemonic, Handle: id.Handle, Color: id.Color, Icon: id.Icon}
	data, err := wire.FastMarshal(payload)
	if err != nil {
		return Blob{}, trace.Wrap(err)
	}

	sealed, err := cryptoutil.EncryptUpdate(data, passwordKey(password))
	if err != nil {
		return Blob{}, trace.Wrap(err)
	}

	return Blob{Version: currentBlobVersion, Encrypted: encodeBase64(sealed)}, nil
}

// Import regenerates an Identity deterministically from blob, authenticating
// with password, and attaches a new current-device entry for deviceID.
// Wrong password or an unsupported version fails without returning any
// partial identity.
func Import(blob Blob, password string, deviceID, platform string, now time.Time) (*Identity, error) {
	if blob.Version != currentBlobVersion {
		return nil, ErrUnsupportedVersion
	}

	sealed, err := decodeBase64(blob.Encrypted)
	if err != nil {
		return nil, trace.Wrap(ErrWrongPassword)
	}

	data, err := cryptoutil.DecryptUpdate(sealed, passwordKey(password))
	if err != nil {
		log.Debug("identity import failed to decrypt blob")
		return nil, ErrWrongPassword
	}

	var payload exportPayload
	if err := wire.FastUnmarshal(data, &payload); err != nil {
		return nil, trace.Wrap(ErrWrongPassword)
	}

	seed := mnemonicSeed(payload.Mnemonic)
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	id := &Identity{
		PublicKey: pub,
		SecretKey: priv,
		Mnemonic:  payload.Mnemonic,
		Handle:    payload.Handle,
		Color:     payload.Color,
		Icon:      payload.Icon,
		CreatedAt: now,
	}
	id.Touch(deviceID, platform, now)
	return id, nil
}
