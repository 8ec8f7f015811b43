package meta

import (
	"context"
	"time"

	"github.com/nahma/sidecar/internal/permissions"
	"github.com/nahma/sidecar/internal/store"
	"github.com/nahma/sidecar/internal/wire"
)

// handleFrame decodes one inbound frame and routes it by type. Malformed
// frames (bad JSON, missing type, unknown type) are logged and dropped —
// the connection stays open, per spec §4.G's failure policy.
func (s *Server) handleFrame(conn *Connection, data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		log.WithError(err).Debug("dropping malformed frame")
		return
	}

	if frame.Type == "set-key" {
		s.handleSetKey(conn, frame)
		return
	}

	if conn.getState() == stateConnecting {
		conn.sendError(wire.AuthRequired("set-key must be sent first"))
		return
	}

	if !s.limiter.Allow(conn.sessionKey) {
		conn.sendError(wire.RateLimited("too many operations"))
		return
	}

	handler, ok := dispatchTable[frame.Type]
	if !ok {
		log.WithField("type", frame.Type).Debug("dropping frame of unknown type")
		return
	}
	handler(s, conn, frame)
}

var dispatchTable = map[string]func(*Server, *Connection, wire.Frame){
	"create-workspace":               (*Server).handleCreateWorkspace,
	"update-workspace":               (*Server).handleUpdateWorkspace,
	"delete-workspace":               (*Server).handleDeleteWorkspace,
	"list-workspaces":                (*Server).handleListWorkspaces,
	"join-workspace":                 (*Server).handleJoinWorkspace,
	"leave-workspace":                (*Server).handleLeaveWorkspace,
	"create-folder":                  (*Server).handleCreateFolder,
	"rename-folder":                  (*Server).handleRenameFolder,
	"move-folder":                    (*Server).handleMoveFolder,
	"delete-folder":                  (*Server).handleDeleteFolder,
	"restore-folder":                 (*Server).handleRestoreFolder,
	"list-folders":                   (*Server).handleListFolders,
	"create-document":                (*Server).handleCreateDocument,
	"rename-document":                (*Server).handleRenameDocument,
	"move-document":                  (*Server).handleMoveDocument,
	"delete-document":                (*Server).handleDeleteDocument,
	"restore-document":               (*Server).handleRestoreDocument,
	"open-document":                  (*Server).handleOpenDocument,
	"create-invite":                  (*Server).handleCreateInvite,
	"redeem-invite":                  (*Server).handleRedeemInvite,
	"invalidate-invite":              (*Server).handleInvalidateInvite,
	"update-collaborator-permission": (*Server).handleUpdateCollaboratorPermission,
}

func (s *Server) handleSetKey(conn *Connection, frame wire.Frame) {
	var req wire.SetKeyRequest
	if err := frame.Decode(&req); err != nil || req.Check() != nil {
		conn.sendError(wire.Validation("invalid set-key frame"))
		return
	}
	conn.mu.Lock()
	conn.sessionKey = req.SessionKey
	conn.userID = req.SessionKey
	conn.state = stateKeyed
	conn.mu.Unlock()
	s.hub.BindUser(conn, conn.userID)
	conn.setState(stateActive)
	conn.sendFrame(wire.StatusFrame{Type: "status", Status: "active"})
}

func decodeAndCheck(frame wire.Frame, req wire.Checkable) error {
	if err := frame.Decode(req); err != nil {
		return wire.Validation("malformed payload")
	}
	return req.Check()
}

func (s *Server) handleCreateWorkspace(conn *Connection, frame wire.Frame) {
	var req wire.CreateWorkspaceRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	ws, err := s.facade.CreateWorkspace(ctx, req.Name, conn.userID, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to create workspace", err))
		return
	}
	s.hub.JoinWorkspace(conn, ws.ID)
	if _, err := s.resolver.Grant(ctx, conn.userID, store.EntityWorkspace, ws.ID, store.PermissionOwner); err != nil {
		conn.sendError(wire.Transient("failed to grant owner permission", err))
		return
	}
	reply := map[string]interface{}{"type": "workspace-created", "workspace": ws}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(ws.ID, reply, conn)
}

func (s *Server) handleUpdateWorkspace(conn *Connection, frame wire.Frame) {
	var req wire.UpdateWorkspaceRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityWorkspace, req.WorkspaceID, permissions.ActionEdit); err != nil {
		conn.sendError(err)
		return
	}
	ws, err := s.facade.UpdateWorkspace(ctx, req.WorkspaceID, time.Now(), func(w *store.Workspace) {
		if req.Name != nil {
			w.Name = *req.Name
		}
	})
	if err != nil {
		conn.sendError(wire.Transient("failed to update workspace", err))
		return
	}
	reply := map[string]interface{}{"type": "workspace-updated", "workspace": ws}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(ws.ID, reply, conn)
}

func (s *Server) handleDeleteWorkspace(conn *Connection, frame wire.Frame) {
	var req wire.WorkspaceIDRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityWorkspace, req.WorkspaceID, permissions.ActionDeleteWorkspace); err != nil {
		conn.sendError(err)
		return
	}
	if err := s.facade.DeleteWorkspace(ctx, req.WorkspaceID, time.Now()); err != nil {
		conn.sendError(wire.Transient("failed to delete workspace", err))
		return
	}
	reply := map[string]interface{}{"type": "workspace-deleted", "id": req.WorkspaceID}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(req.WorkspaceID, reply, conn)
}

func (s *Server) handleListWorkspaces(conn *Connection, frame wire.Frame) {
	ctx := context.Background()
	joined := conn.joinedWorkspaces()
	workspaces := make([]*store.Workspace, 0, len(joined))
	for _, id := range joined {
		ws, err := s.facade.GetWorkspace(ctx, id)
		if err != nil || ws.DeletedAt != nil {
			continue
		}
		workspaces = append(workspaces, ws)
	}
	conn.sendFrame(map[string]interface{}{"type": "workspace-list", "workspaces": workspaces})
}

func (s *Server) handleJoinWorkspace(conn *Connection, frame wire.Frame) {
	var req wire.WorkspaceIDRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityWorkspace, req.WorkspaceID, permissions.ActionView); err != nil {
		conn.sendError(err)
		return
	}
	s.hub.JoinWorkspace(conn, req.WorkspaceID)
	conn.sendFrame(map[string]interface{}{"type": "workspace-joined", "workspaceId": req.WorkspaceID})
}

func (s *Server) handleLeaveWorkspace(conn *Connection, frame wire.Frame) {
	var req wire.WorkspaceIDRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	s.hub.LeaveWorkspace(conn, req.WorkspaceID)
	conn.sendFrame(map[string]interface{}{"type": "workspace-left", "workspaceId": req.WorkspaceID})
}

func (s *Server) handleCreateFolder(conn *Connection, frame wire.Frame) {
	var req wire.CreateFolderRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityWorkspace, req.WorkspaceID, permissions.ActionCreate); err != nil {
		conn.sendError(err)
		return
	}
	fl, err := s.facade.CreateFolder(ctx, req.WorkspaceID, req.ParentID, req.Name, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to create folder", err))
		return
	}
	reply := map[string]interface{}{"type": "folder-created", "folder": fl}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(req.WorkspaceID, reply, conn)
}

func (s *Server) handleRenameFolder(conn *Connection, frame wire.Frame) {
	var req wire.RenameFolderRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityFolder, req.FolderID, permissions.ActionEdit); err != nil {
		conn.sendError(err)
		return
	}
	fl, err := s.facade.RenameFolder(ctx, req.FolderID, req.Name, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to rename folder", err))
		return
	}
	reply := map[string]interface{}{"type": "folder-renamed", "folder": fl}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(fl.WorkspaceID, reply, conn)
}

func (s *Server) handleMoveFolder(conn *Connection, frame wire.Frame) {
	var req wire.MoveFolderRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityFolder, req.FolderID, permissions.ActionEdit); err != nil {
		conn.sendError(err)
		return
	}
	fl, err := s.facade.MoveFolder(ctx, req.FolderID, req.NewParentID, time.Now())
	if err != nil {
		if _, ok := err.(*wire.CodedError); ok {
			conn.sendError(err)
		} else {
			conn.sendError(wire.Transient("failed to move folder", err))
		}
		return
	}
	reply := map[string]interface{}{"type": "folder-moved", "folder": fl}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(fl.WorkspaceID, reply, conn)
}

func (s *Server) handleDeleteFolder(conn *Connection, frame wire.Frame) {
	var req wire.FolderIDRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityFolder, req.FolderID, permissions.ActionDelete); err != nil {
		conn.sendError(err)
		return
	}
	fl, err := s.facade.GetFolder(ctx, req.FolderID)
	if err != nil {
		conn.sendError(err)
		return
	}
	deletedIDs, err := s.resolver.CascadeDelete(ctx, req.FolderID, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to delete folder", err))
		return
	}
	reply := map[string]interface{}{"type": "folder-deleted", "ids": deletedIDs}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(fl.WorkspaceID, reply, conn)
}

func (s *Server) handleRestoreFolder(conn *Connection, frame wire.Frame) {
	var req wire.FolderIDRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityFolder, req.FolderID, permissions.ActionRestore); err != nil {
		conn.sendError(err)
		return
	}
	fl, err := s.facade.RestoreFolder(ctx, req.FolderID, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to restore folder", err))
		return
	}
	reply := map[string]interface{}{"type": "folder-restored", "folder": fl}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(fl.WorkspaceID, reply, conn)
}

func (s *Server) handleListFolders(conn *Connection, frame wire.Frame) {
	var req wire.ListFoldersRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	if !conn.hasJoined(req.WorkspaceID) {
		conn.sendError(wire.PermissionDenied("workspace not joined"))
		return
	}
	folders, err := s.facade.ListFolders(context.Background(), req.WorkspaceID)
	if err != nil {
		conn.sendError(wire.Transient("failed to list folders", err))
		return
	}
	conn.sendFrame(map[string]interface{}{"type": "folder-list", "folders": folders})
}

func (s *Server) handleCreateDocument(conn *Connection, frame wire.Frame) {
	var req wire.CreateDocumentRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityWorkspace, req.WorkspaceID, permissions.ActionCreate); err != nil {
		conn.sendError(err)
		return
	}
	doc, err := s.facade.CreateDocument(ctx, req.WorkspaceID, req.FolderID, req.Name, req.DocType, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to create document", err))
		return
	}
	reply := map[string]interface{}{"type": "document-created", "document": doc}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(req.WorkspaceID, reply, conn)
}

func (s *Server) handleRenameDocument(conn *Connection, frame wire.Frame) {
	var req wire.RenameDocumentRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityDocument, req.DocumentID, permissions.ActionEdit); err != nil {
		conn.sendError(err)
		return
	}
	doc, err := s.facade.RenameDocument(ctx, req.DocumentID, req.Name, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to rename document", err))
		return
	}
	reply := map[string]interface{}{"type": "document-renamed", "document": doc}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(doc.WorkspaceID, reply, conn)
}

func (s *Server) handleMoveDocument(conn *Connection, frame wire.Frame) {
	var req wire.MoveDocumentRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityDocument, req.DocumentID, permissions.ActionEdit); err != nil {
		conn.sendError(err)
		return
	}
	doc, err := s.facade.MoveDocument(ctx, req.DocumentID, req.NewFolderID, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to move document", err))
		return
	}
	reply := map[string]interface{}{"type": "document-moved", "document": doc}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(doc.WorkspaceID, reply, conn)
}

func (s *Server) handleDeleteDocument(conn *Connection, frame wire.Frame) {
	var req wire.DocumentIDRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityDocument, req.DocumentID, permissions.ActionDelete); err != nil {
		conn.sendError(err)
		return
	}
	doc, err := s.facade.SoftDeleteDocument(ctx, req.DocumentID, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to delete document", err))
		return
	}
	reply := map[string]interface{}{"type": "document-deleted", "id": doc.ID}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(doc.WorkspaceID, reply, conn)
}

func (s *Server) handleRestoreDocument(conn *Connection, frame wire.Frame) {
	var req wire.DocumentIDRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityDocument, req.DocumentID, permissions.ActionRestore); err != nil {
		conn.sendError(err)
		return
	}
	doc, err := s.facade.RestoreDocument(ctx, req.DocumentID, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to restore document", err))
		return
	}
	reply := map[string]interface{}{"type": "document-restored", "document": doc}
	conn.sendFrame(reply)
	s.hub.BroadcastWorkspace(doc.WorkspaceID, reply, conn)
}

func (s *Server) handleOpenDocument(conn *Connection, frame wire.Frame) {
	var req wire.DocumentIDRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, store.EntityDocument, req.DocumentID, permissions.ActionView); err != nil {
		conn.sendError(err)
		return
	}
	doc, err := s.facade.GetDocument(ctx, req.DocumentID)
	if err != nil {
		conn.sendError(err)
		return
	}
	conn.sendFrame(map[string]interface{}{"type": "document-opened", "document": doc})
}

func (s *Server) handleCreateInvite(conn *Connection, frame wire.Frame) {
	var req wire.CreateInviteRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	entityType, ok := parseEntityType(req.EntityType)
	if !ok {
		conn.sendError(wire.Validation("unknown entityType"))
		return
	}
	perm, ok := parsePermission(req.Permission)
	if !ok {
		conn.sendError(wire.Validation("unknown permission"))
		return
	}
	action := permissions.ActionShareAsViewer
	switch perm {
	case store.PermissionEditor:
		action = permissions.ActionShareAsEditor
	case store.PermissionOwner:
		action = permissions.ActionShareAsOwner
	}

	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, entityType, req.EntityID, action); err != nil {
		conn.sendError(err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t := time.UnixMilli(*req.ExpiresAt)
		expiresAt = &t
	}

	inv, err := s.invites.Create(ctx, entityType, req.EntityID, perm, expiresAt, req.MaxUses, time.Now())
	if err != nil {
		conn.sendError(wire.Transient("failed to create invite", err))
		return
	}
	conn.sendFrame(map[string]interface{}{"type": "invite-created", "token": inv.Token, "entityId": inv.EntityID, "permission": permissionString(inv.Permission)})
}

func (s *Server) handleRedeemInvite(conn *Connection, frame wire.Frame) {
	var req wire.RedeemInviteRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	_, entityID, perm, err := s.invites.Redeem(ctx, req.Token, conn.userID, time.Now())
	if err != nil {
		conn.sendError(err)
		return
	}
	conn.sendFrame(map[string]interface{}{"type": "invite-redeemed", "entityId": entityID, "permission": permissionString(perm)})
}

func (s *Server) handleInvalidateInvite(conn *Connection, frame wire.Frame) {
	var req wire.InvalidateInviteRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	ctx := context.Background()
	if err := s.invites.Invalidate(ctx, req.Token, time.Now()); err != nil {
		conn.sendError(err)
		return
	}
	select {
	case evt := <-s.invites.Invalidated():
		s.hub.BroadcastToUsers(evt.UserIDs, wire.LinkInvalidatedFrame{Type: "link-invalidated", Token: evt.Token})
	default:
	}
	conn.sendFrame(map[string]interface{}{"type": "invite-invalidated", "token": req.Token})
}

func (s *Server) handleUpdateCollaboratorPermission(conn *Connection, frame wire.Frame) {
	var req wire.UpdateCollaboratorPermissionRequest
	if err := decodeAndCheck(frame, &req); err != nil {
		conn.sendError(err)
		return
	}
	entityType, ok := parseEntityType(req.EntityType)
	if !ok {
		conn.sendError(wire.Validation("unknown entityType"))
		return
	}
	perm, ok := parsePermission(req.Permission)
	if !ok {
		conn.sendError(wire.Validation("unknown permission"))
		return
	}

	ctx := context.Background()
	if err := s.resolver.Check(ctx, conn.userID, entityType, req.EntityID, permissions.ActionShareAsOwner); err != nil {
		conn.sendError(err)
		return
	}

	evt, err := s.resolver.Grant(ctx, req.UserID, entityType, req.EntityID, perm)
	if err != nil {
		conn.sendError(wire.Transient("failed to update permission", err))
		return
	}

	workspaceID, err := workspaceOf(ctx, s.facade, entityType, req.EntityID)
	if err != nil {
		conn.sendError(wire.Transient("failed to resolve workspace", err))
		return
	}
	changeFrame := wire.PermissionChangedFrame{
		Type:          "permission-changed",
		UserID:        evt.UserID,
		EntityID:      evt.EntityID,
		OldPermission: permissionString(evt.OldPermission),
		NewPermission: permissionString(evt.NewPermission),
	}
	conn.sendFrame(changeFrame)
	s.hub.BroadcastToUsersInWorkspace(workspaceID, []string{req.UserID}, changeFrame)
}
