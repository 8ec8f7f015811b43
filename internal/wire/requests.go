package wire

// Request/reply payload shapes for the metadata broker (§4.G, §6). Each
// C→S request type implements Checkable so a handler can validate it in
// one line right after Frame.Decode.

type SetKeyRequest struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
}

func (r SetKeyRequest) Check() error {
	if len(r.SessionKey) == 0 {
		return Validation("sessionKey is required")
	}
	return nil
}

type CreateWorkspaceRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func (r CreateWorkspaceRequest) Check() error {
	if r.Name == "" {
		return Validation("name is required")
	}
	return nil
}

type UpdateWorkspaceRequest struct {
	Type        string  `json:"type"`
	WorkspaceID string  `json:"workspaceId"`
	Name        *string `json:"name,omitempty"`
}

func (r UpdateWorkspaceRequest) Check() error {
	if r.WorkspaceID == "" {
		return Validation("workspaceId is required")
	}
	return nil
}

type WorkspaceIDRequest struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
}

func (r WorkspaceIDRequest) Check() error {
	if r.WorkspaceID == "" {
		return Validation("workspaceId is required")
	}
	return nil
}

type CreateFolderRequest struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
	ParentID    string `json:"parentId,omitempty"`
	Name        string `json:"name"`
}

func (r CreateFolderRequest) Check() error {
	if r.WorkspaceID == "" || r.Name == "" {
		return Validation("workspaceId and name are required")
	}
	return nil
}

type RenameFolderRequest struct {
	Type     string `json:"type"`
	FolderID string `json:"folderId"`
	Name     string `json:"name"`
}

func (r RenameFolderRequest) Check() error {
	if r.FolderID == "" || r.Name == "" {
		return Validation("folderId and name are required")
	}
	return nil
}

type MoveFolderRequest struct {
	Type        string `json:"type"`
	FolderID    string `json:"folderId"`
	NewParentID string `json:"newParentId"`
}

func (r MoveFolderRequest) Check() error {
	if r.FolderID == "" {
		return Validation("folderId is required")
	}
	return nil
}

type FolderIDRequest struct {
	Type     string `json:"type"`
	FolderID string `json:"folderId"`
}

func (r FolderIDRequest) Check() error {
	if r.FolderID == "" {
		return Validation("folderId is required")
	}
	return nil
}

type ListFoldersRequest struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
}

func (r ListFoldersRequest) Check() error {
	if r.WorkspaceID == "" {
		return Validation("workspaceId is required")
	}
	return nil
}

type CreateDocumentRequest struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
	FolderID    string `json:"folderId,omitempty"`
	Name        string `json:"name"`
	DocType     string `json:"docType"`
}

func (r CreateDocumentRequest) Check() error {
	if r.WorkspaceID == "" || r.Name == "" {
		return Validation("workspaceId and name are required")
	}
	return nil
}

type RenameDocumentRequest struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
}

func (r RenameDocumentRequest) Check() error {
	if r.DocumentID == "" || r.Name == "" {
		return Validation("documentId and name are required")
	}
	return nil
}

type MoveDocumentRequest struct {
	Type        string `json:"type"`
	DocumentID  string `json:"documentId"`
	NewFolderID string `json:"newFolderId"`
}

func (r MoveDocumentRequest) Check() error {
	if r.DocumentID == "" {
		return Validation("documentId is required")
	}
	return nil
}

type DocumentIDRequest struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
}

func (r DocumentIDRequest) Check() error {
	if r.DocumentID == "" {
		return Validation("documentId is required")
	}
	return nil
}

type CreateInviteRequest struct {
	Type       string `json:"type"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Permission string `json:"permission"`
	ExpiresAt  *int64 `json:"expiresAt,omitempty"` // unix millis
	MaxUses    *int   `json:"maxUses,omitempty"`
}

func (r CreateInviteRequest) Check() error {
	if r.EntityType == "" || r.EntityID == "" || r.Permission == "" {
		return Validation("entityType, entityId and permission are required")
	}
	return nil
}

type RedeemInviteRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func (r RedeemInviteRequest) Check() error {
	if r.Token == "" {
		return Validation("token is required")
	}
	return nil
}

type InvalidateInviteRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func (r InvalidateInviteRequest) Check() error {
	if r.Token == "" {
		return Validation("token is required")
	}
	return nil
}

type UpdateCollaboratorPermissionRequest struct {
	Type       string `json:"type"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	UserID     string `json:"userId"`
	Permission string `json:"permission"`
}

func (r UpdateCollaboratorPermissionRequest) Check() error {
	if r.EntityType == "" || r.EntityID == "" || r.UserID == "" || r.Permission == "" {
		return Validation("entityType, entityId, userId and permission are required")
	}
	return nil
}

// PermissionChangedFrame is the propagation event of spec §4.E.
type PermissionChangedFrame struct {
	Type          string `json:"type"`
	UserID        string `json:"userId"`
	EntityID      string `json:"entityId"`
	OldPermission string `json:"oldPermission"`
	NewPermission string `json:"newPermission"`
}

// LinkInvalidatedFrame notifies a redeemer that the link it used is gone.
type LinkInvalidatedFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}
