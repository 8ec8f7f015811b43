package store

import "time"

// Workspace is the top-level permission domain (spec §3).
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Folder nests within a workspace, or within another folder.
type Folder struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	ParentID    string     `json:"parentId,omitempty"` // folder id, or "" meaning workspace root
	Name        string     `json:"name"`
	Icon        string     `json:"icon,omitempty"`
	Color       string     `json:"color,omitempty"`
	IsSystem    bool       `json:"isSystem,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// DocumentState is the lifecycle of a Document; it never returns from Purged.
type DocumentState string

const (
	DocumentActive  DocumentState = "active"
	DocumentTrashed DocumentState = "trashed"
	DocumentPurged  DocumentState = "purged"
)

// Document is a container for a CRDT state.
type Document struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspaceId"`
	FolderID    string        `json:"folderId,omitempty"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	State       DocumentState `json:"state"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	DeletedAt   *time.Time    `json:"deletedAt,omitempty"`
}

// UpdateRecord is one row of a document's append-only CRDT update log.
type UpdateRecord struct {
	DocID      string    `json:"docId"`
	Seq        uint64    `json:"seq"`
	Ciphertext []byte    `json:"ciphertext"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Permission is the ordering none < Viewer < Editor < Owner.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionViewer
	PermissionEditor
	PermissionOwner
)

// EntityType is one of the three kinds an Invite or a permission grant can target.
type EntityType string

const (
	EntityWorkspace EntityType = "workspace"
	EntityFolder    EntityType = "folder"
	EntityDocument  EntityType = "document"
)

// Invite is a single-use or bounded-use capability token.
type Invite struct {
	Token      string        `json:"token"`
	EntityType EntityType    `json:"entityType"`
	EntityID   string        `json:"entityId"`
	Permission Permission    `json:"permission"`
	CreatedAt  time.Time     `json:"createdAt"`
	ExpiresAt  *time.Time    `json:"expiresAt,omitempty"`
	MaxUses    *int          `json:"maxUses,omitempty"`
	Uses       int           `json:"uses"`
	RedeemedBy []string      `json:"redeemedBy"`
	Invalid    bool          `json:"invalid"`
}

func (i *Invite) spent() bool {
	return i.MaxUses != nil && i.Uses >= *i.MaxUses
}
