// Package keys implements the hierarchical key derivation tree described
// in spec §4.B: password → workspace → folder → document keys, plus the
// topic hash used to name P2P relay rendezvous channels.
package keys

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters are fixed at build time so derivation is
// deterministic across processes and releases.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
)

func kdf(label string, inputs ...[]byte) []byte {
	salt := []byte(label)
	for _, in := range inputs {
		salt = append(salt, in...)
	}
	// argon2.IDKey requires a password and salt; we fold every input into
	// the password side and keep the label as a fixed, public salt so
	// derivation remains a pure function of (label, inputs).
	var password []byte
	for _, in := range inputs {
		password = append(password, in...)
	}
	return argon2.IDKey(password, []byte(label), argonTime, argonMemory, argonThreads, argonKeyLen)
}

// WorkspaceKey derives the per-workspace key from a user passphrase and
// the workspace id.
func WorkspaceKey(passphrase, workspaceID string) []byte {
	return kdf("workspace", []byte(passphrase), []byte(workspaceID))
}

// FolderKey derives a folder key from its parent key (the workspace key,
// or an ancestor folder's key) and the folder id.
func FolderKey(parentKey []byte, folderID string) []byte {
	return kdf("folder", parentKey, []byte(folderID))
}

// DocumentKey derives a document key from its owning folder's key and the
// document id.
func DocumentKey(folderKey []byte, documentID string) []byte {
	return kdf("document", folderKey, []byte(documentID))
}

// TopicHash derives the hex-encoded rendezvous topic identifier for a
// document, binding passphrase and document id without revealing either.
func TopicHash(passphrase, documentID string) string {
	raw := kdf("topic", []byte(passphrase), []byte(documentID))
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// PasswordKey derives the AEAD key that seals the identity export blob
// (spec §4.C) from the user's password, domain-separated from the
// workspace/folder/document branches the same way they are separated from
// each other.
func PasswordKey(password string) []byte {
	return kdf("identity-export", []byte(password))
}

// Path names the chain of ids leading to an optional document: a
// workspace, zero or more nested folders (root-first), and an optional
// document inside the innermost folder.
type Path struct {
	WorkspaceID string
	FolderPath  []string
	DocumentID  string
}

// Chain holds every intermediate key produced while resolving a Path.
type Chain struct {
	WorkspaceKey []byte
	FolderKeys   []byte // last folder's key; intermediate keys are not retained
	DocumentKey  []byte
	TopicHash    string
}

// ErrDocumentWithoutFolder is returned by DeriveKeyChain when a document
// id is given but the folder path is empty. DeriveKeyChain derives a
// document key only beneath a folder key; the key of a document at the
// workspace root comes from DocumentKey over WorkspaceKey directly.
var ErrDocumentWithoutFolder = trace.BadParameter("document id given without a folder path")

// DeriveKeyChain derives every intermediate key for path in one call.
func DeriveKeyChain(passphrase string, path Path) (Chain, error) {
	if path.DocumentID != "" && len(path.FolderPath) == 0 {
		return Chain{}, ErrDocumentWithoutFolder
	}

	chain := Chain{WorkspaceKey: WorkspaceKey(passphrase, path.WorkspaceID)}

	folderKey := chain.WorkspaceKey
	for _, folderID := range path.FolderPath {
		folderKey = FolderKey(folderKey, folderID)
	}
	chain.FolderKeys = folderKey

	if path.DocumentID != "" {
		chain.DocumentKey = DocumentKey(folderKey, path.DocumentID)
		chain.TopicHash = TopicHash(passphrase, path.DocumentID)
	}

	return chain, nil
}
