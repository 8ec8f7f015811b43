package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/nahma/sidecar/internal/wire"
)

// Facade is the typed persistence façade of spec §4.D, layered over any
// Backend. All mutations are atomic at the row level because each row is a
// single Backend.Put. inviteMu additionally serializes the validate-then-
// increment sequence in RedeemInvite across the Get/Put pair (spec §4.F).
type Facade struct {
	backend Backend
	inviteMu sync.Mutex
}

// New wraps backend in a typed Facade.
func New(backend Backend) *Facade {
	return &Facade{backend: backend}
}

// Close releases the underlying Backend.
func (f *Facade) Close() error { return f.backend.Close() }

func workspaceKey(id string) []byte   { return []byte("ws/" + id) }
func folderKey(id string) []byte      { return []byte("folder/" + id) }
func folderPrefix(wsID string) []byte { return []byte("folder-by-ws/" + wsID + "/") }
func documentKey(id string) []byte    { return []byte("doc/" + id) }
func docPrefix(wsID string) []byte    { return []byte("doc-by-ws/" + wsID + "/") }
func updateKey(docID string, seq uint64) []byte {
	return []byte(fmtSeqKey("update/"+docID+"/", seq))
}
func updatePrefix(docID string) []byte { return []byte("update/" + docID + "/") }
func inviteKey(token string) []byte    { return []byte("invite/" + token) }
func invitePrefix() []byte             { return []byte("invite/") }

// fmtSeqKey zero-pads seq to 20 digits so lexicographic byte order equals
// numeric order, matching the teacher's approach to ordered range scans
// over a flat keyspace.
func fmtSeqKey(prefix string, seq uint64) string {
	const digits = 20
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + seq%10)
		seq /= 10
	}
	return prefix + string(buf)
}

// ---- Workspaces ----

// CreateWorkspace persists a new workspace owned by ownerID.
func (f *Facade) CreateWorkspace(ctx context.Context, name, ownerID string, now time.Time) (*Workspace, error) {
	ws := &Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.putJSON(ctx, workspaceKey(ws.ID), ws); err != nil {
		return nil, trace.Wrap(err)
	}
	return ws, nil
}

// GetWorkspace loads a workspace by id.
func (f *Facade) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var ws Workspace
	if err := f.getJSON(ctx, workspaceKey(id), &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// UpdateWorkspace applies mutate to the stored workspace and persists it.
func (f *Facade) UpdateWorkspace(ctx context.Context, id string, now time.Time, mutate func(*Workspace)) (*Workspace, error) {
	ws, err := f.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(ws)
	ws.UpdatedAt = now
	if err := f.putJSON(ctx, workspaceKey(id), ws); err != nil {
		return nil, trace.Wrap(err)
	}
	return ws, nil
}

// DeleteWorkspace soft-deletes a workspace in place.
func (f *Facade) DeleteWorkspace(ctx context.Context, id string, now time.Time) error {
	_, err := f.UpdateWorkspace(ctx, id, now, func(ws *Workspace) {
		ws.DeletedAt = &now
	})
	return err
}

// ---- Folders ----

// CreateFolder persists a new folder under workspaceID, nested under parentID
// (empty parentID means workspace root).
func (f *Facade) CreateFolder(ctx context.Context, workspaceID, parentID, name string, now time.Time) (*Folder, error) {
	fl := &Folder{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		ParentID:    parentID,
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.putFolder(ctx, fl); err != nil {
		return nil, err
	}
	return fl, nil
}

func (f *Facade) putFolder(ctx context.Context, fl *Folder) error {
	if err := f.putJSON(ctx, folderKey(fl.ID), fl); err != nil {
		return trace.Wrap(err)
	}
	// secondary index: folder-by-ws/<wsID>/<folderID> -> folderID, so
	// ListFolders can range-scan without loading every folder in the store.
	if err := f.backend.Put(ctx, []byte(string(folderPrefix(fl.WorkspaceID))+fl.ID), []byte(fl.ID)); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// GetFolder loads a folder by id.
func (f *Facade) GetFolder(ctx context.Context, id string) (*Folder, error) {
	var fl Folder
	if err := f.getJSON(ctx, folderKey(id), &fl); err != nil {
		return nil, err
	}
	return &fl, nil
}

// ListFolders returns every non-deleted folder in workspaceID.
func (f *Facade) ListFolders(ctx context.Context, workspaceID string) ([]*Folder, error) {
	items, err := f.backend.GetRange(ctx, folderPrefix(workspaceID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*Folder, 0, len(items))
	for _, it := range items {
		fl, err := f.GetFolder(ctx, string(it.Value))
		if err != nil {
			continue
		}
		if fl.DeletedAt == nil {
			out = append(out, fl)
		}
	}
	return out, nil
}

// RenameFolder updates a folder's display name.
func (f *Facade) RenameFolder(ctx context.Context, id, name string, now time.Time) (*Folder, error) {
	fl, err := f.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	fl.Name = name
	fl.UpdatedAt = now
	if err := f.putFolder(ctx, fl); err != nil {
		return nil, err
	}
	return fl, nil
}

// maxFolderDepth bounds the ancestor walk in checkNoCycle: a legitimate
// folder tree never nests this deep, so hitting the limit means a cycle
// slipped past an earlier check (or storage corruption) rather than a
// genuinely deep tree.
const maxFolderDepth = 1000

// checkNoCycle rejects reparenting id under newParentID when newParentID
// is id itself or one of id's descendants, per spec §3's "no cycles in
// the parent graph" invariant and §9's edge-walk design. It walks
// newParentID's ancestor chain up to the workspace root.
func (f *Facade) checkNoCycle(ctx context.Context, id, newParentID string) error {
	if newParentID == "" {
		return nil
	}
	cur := newParentID
	for depth := 0; cur != ""; depth++ {
		if cur == id {
			return wire.Conflict("move would create a cycle in the folder tree")
		}
		if depth >= maxFolderDepth {
			return wire.Conflict("folder ancestor chain exceeds maximum depth")
		}
		parent, err := f.GetFolder(ctx, cur)
		if err != nil {
			return err
		}
		cur = parent.ParentID
	}
	return nil
}

// MoveFolder reparents a folder under newParentID, rejecting moves that
// would create a cycle.
func (f *Facade) MoveFolder(ctx context.Context, id, newParentID string, now time.Time) (*Folder, error) {
	fl, err := f.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := f.checkNoCycle(ctx, id, newParentID); err != nil {
		return nil, err
	}
	fl.ParentID = newParentID
	fl.UpdatedAt = now
	if err := f.putFolder(ctx, fl); err != nil {
		return nil, err
	}
	return fl, nil
}

// FolderPath returns the root-first chain of folder ids from the
// workspace root down to and including folderID ("" yields an empty
// path), used to reconstruct the keys.Path a document's key derivation
// needs (spec §4.B).
func (f *Facade) FolderPath(ctx context.Context, folderID string) ([]string, error) {
	var reversed []string
	cur := folderID
	for depth := 0; cur != ""; depth++ {
		if depth >= maxFolderDepth {
			return nil, wire.Conflict("folder ancestor chain exceeds maximum depth")
		}
		reversed = append(reversed, cur)
		fl, err := f.GetFolder(ctx, cur)
		if err != nil {
			return nil, err
		}
		cur = fl.ParentID
	}
	path := make([]string, len(reversed))
	for i, id := range reversed {
		path[len(reversed)-1-i] = id
	}
	return path, nil
}

// DeleteFolder soft-deletes a folder and cascades to its entire subtree
// (nested folders and documents) in one logical pass, per spec §4.E. It
// returns every id soft-deleted by the cascade.
func (f *Facade) DeleteFolder(ctx context.Context, id string, now time.Time) ([]string, error) {
	fl, err := f.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	var deleted []string

	folders, err := f.ListFolders(ctx, fl.WorkspaceID)
	if err != nil {
		return nil, err
	}
	children := map[string][]*Folder{}
	for _, other := range folders {
		children[other.ParentID] = append(children[other.ParentID], other)
	}

	var walk func(folderID string) error
	walk = func(folderID string) error {
		cur, err := f.GetFolder(ctx, folderID)
		if err != nil {
			return err
		}
		cur.DeletedAt = &now
		cur.UpdatedAt = now
		if err := f.putFolder(ctx, cur); err != nil {
			return err
		}
		deleted = append(deleted, cur.ID)

		docs, err := f.ListDocumentsInFolder(ctx, fl.WorkspaceID, folderID)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if _, err := f.SoftDeleteDocument(ctx, doc.ID, now); err != nil {
				return err
			}
			deleted = append(deleted, doc.ID)
		}

		for _, child := range children[folderID] {
			if err := walk(child.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(id); err != nil {
		return nil, err
	}
	return deleted, nil
}

// RestoreFolder clears a folder's soft-delete marker.
func (f *Facade) RestoreFolder(ctx context.Context, id string, now time.Time) (*Folder, error) {
	fl, err := f.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	fl.DeletedAt = nil
	fl.UpdatedAt = now
	if err := f.putFolder(ctx, fl); err != nil {
		return nil, err
	}
	return fl, nil
}

// ---- Documents ----

// CreateDocument persists a new document.
func (f *Facade) CreateDocument(ctx context.Context, workspaceID, folderID, name, docType string, now time.Time) (*Document, error) {
	doc := &Document{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		FolderID:    folderID,
		Name:        name,
		Type:        docType,
		State:       DocumentActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.putDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (f *Facade) putDocument(ctx context.Context, doc *Document) error {
	if err := f.putJSON(ctx, documentKey(doc.ID), doc); err != nil {
		return trace.Wrap(err)
	}
	if err := f.backend.Put(ctx, []byte(string(docPrefix(doc.WorkspaceID))+doc.ID), []byte(doc.ID)); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// GetDocument loads a document by id.
func (f *Facade) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := f.getJSON(ctx, documentKey(id), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocumentsInFolder returns every document directly in folderID (folderID
// may be "" for workspace-root documents).
func (f *Facade) ListDocumentsInFolder(ctx context.Context, workspaceID, folderID string) ([]*Document, error) {
	items, err := f.backend.GetRange(ctx, docPrefix(workspaceID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*Document
	for _, it := range items {
		doc, err := f.GetDocument(ctx, string(it.Value))
		if err != nil {
			continue
		}
		if doc.FolderID == folderID && doc.State != DocumentPurged {
			out = append(out, doc)
		}
	}
	return out, nil
}

// RenameDocument updates a document's display name.
func (f *Facade) RenameDocument(ctx context.Context, id, name string, now time.Time) (*Document, error) {
	doc, err := f.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Name = name
	doc.UpdatedAt = now
	if err := f.putDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// MoveDocument relocates a document to a different folder.
func (f *Facade) MoveDocument(ctx context.Context, id, newFolderID string, now time.Time) (*Document, error) {
	doc, err := f.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.FolderID = newFolderID
	doc.UpdatedAt = now
	if err := f.putDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SoftDeleteDocument transitions a document from active to trashed. A
// purged document cannot be transitioned at all.
func (f *Facade) SoftDeleteDocument(ctx context.Context, id string, now time.Time) (*Document, error) {
	doc, err := f.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.State == DocumentPurged {
		return nil, wire.Conflict("document already purged")
	}
	doc.State = DocumentTrashed
	doc.DeletedAt = &now
	doc.UpdatedAt = now
	if err := f.putDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// RestoreDocument transitions a trashed document back to active.
func (f *Facade) RestoreDocument(ctx context.Context, id string, now time.Time) (*Document, error) {
	doc, err := f.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.State == DocumentPurged {
		return nil, wire.Conflict("document already purged")
	}
	doc.State = DocumentActive
	doc.DeletedAt = nil
	doc.UpdatedAt = now
	if err := f.putDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ---- Update log ----

// AppendUpdate appends one CRDT update record to docID's log at the next
// sequence number, preserving insertion order.
func (f *Facade) AppendUpdate(ctx context.Context, docID string, ciphertext []byte, now time.Time) (*UpdateRecord, error) {
	items, err := f.backend.GetRange(ctx, updatePrefix(docID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rec := &UpdateRecord{DocID: docID, Seq: uint64(len(items)) + 1, Ciphertext: ciphertext, CreatedAt: now}
	if err := f.putJSON(ctx, updateKey(docID, rec.Seq), rec); err != nil {
		return nil, trace.Wrap(err)
	}
	return rec, nil
}

// ListUpdates returns docID's full update log in insertion order.
func (f *Facade) ListUpdates(ctx context.Context, docID string) ([]*UpdateRecord, error) {
	items, err := f.backend.GetRange(ctx, updatePrefix(docID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*UpdateRecord, 0, len(items))
	for _, it := range items {
		var rec UpdateRecord
		if err := wire.FastUnmarshal(it.Value, &rec); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// ---- Invites ----

// CreateInvite mints a new capability token for entity.
func (f *Facade) CreateInvite(ctx context.Context, entityType EntityType, entityID string, perm Permission, expiresAt *time.Time, maxUses *int, now time.Time) (*Invite, error) {
	inv := &Invite{
		Token:      uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Permission: perm,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		MaxUses:    maxUses,
	}
	if err := f.putInvite(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (f *Facade) putInvite(ctx context.Context, inv *Invite) error {
	return trace.Wrap(f.putJSON(ctx, inviteKey(inv.Token), inv))
}

// GetInvite loads an invite by token.
func (f *Facade) GetInvite(ctx context.Context, token string) (*Invite, error) {
	var inv Invite
	if err := f.getJSON(ctx, inviteKey(token), &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// RedeemInvite validates and atomically redeems token for userID, returning
// the invite's granted permission on success. See spec §4.F: validation and
// the uses increment happen under the same lock, so two concurrent
// redemptions of a near-exhausted token can never both pass validation.
func (f *Facade) RedeemInvite(ctx context.Context, token, userID string, now time.Time) (EntityType, string, Permission, error) {
	f.inviteMu.Lock()
	defer f.inviteMu.Unlock()

	inv, err := f.GetInvite(ctx, token)
	if err != nil {
		return "", "", PermissionNone, wire.NotFound("invite not found")
	}
	if inv.Invalid {
		return "", "", PermissionNone, wire.InviteExpired("invite invalidated")
	}
	if inv.ExpiresAt != nil && now.After(*inv.ExpiresAt) {
		return "", "", PermissionNone, wire.InviteExpired("invite expired")
	}
	if inv.spent() {
		return "", "", PermissionNone, wire.InviteExpired("invite exhausted")
	}

	inv.Uses++
	inv.RedeemedBy = append(inv.RedeemedBy, userID)
	if inv.spent() {
		inv.Invalid = true
	}
	if err := f.putInvite(ctx, inv); err != nil {
		return "", "", PermissionNone, err
	}
	return inv.EntityType, inv.EntityID, inv.Permission, nil
}

// InvalidateInvite marks token invalid (equivalent to immediate expiry) and
// returns every user id that had redeemed it, so callers can force
// re-authorization of their open sessions.
func (f *Facade) InvalidateInvite(ctx context.Context, token string, now time.Time) ([]string, error) {
	inv, err := f.GetInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	inv.Invalid = true
	if err := f.putInvite(ctx, inv); err != nil {
		return nil, err
	}
	return inv.RedeemedBy, nil
}

// SweepExpiredInvites is the tier-1 hourly GC: delete every invite whose
// expires_at is set and in the past. Long-lived invites with no expiry are
// left alone.
func (f *Facade) SweepExpiredInvites(ctx context.Context, now time.Time) (int, error) {
	items, err := f.backend.GetRange(ctx, invitePrefix())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	var n int
	for _, it := range items {
		var inv Invite
		if err := wire.FastUnmarshal(it.Value, &inv); err != nil {
			continue
		}
		if inv.ExpiresAt != nil && now.After(*inv.ExpiresAt) {
			if err := f.backend.Delete(ctx, it.Key); err != nil {
				continue
			}
			n++
		}
	}
	return n, nil
}

// SweepAgedInvites is the tier-2 nuclear GC: delete every invite older than
// maxAge regardless of its declared expiry. Defends against mis-issued or
// forgotten tokens that never set expires_at.
func (f *Facade) SweepAgedInvites(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	items, err := f.backend.GetRange(ctx, invitePrefix())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	cutoff := now.Add(-maxAge)
	var n int
	for _, it := range items {
		var inv Invite
		if err := wire.FastUnmarshal(it.Value, &inv); err != nil {
			continue
		}
		if inv.CreatedAt.Before(cutoff) {
			if err := f.backend.Delete(ctx, it.Key); err != nil {
				continue
			}
			n++
		}
	}
	return n, nil
}

// ---- shared helpers ----

func (f *Facade) putJSON(ctx context.Context, key []byte, v interface{}) error {
	data, err := wire.FastMarshal(v)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(f.backend.Put(ctx, key, data))
}

func (f *Facade) getJSON(ctx context.Context, key []byte, v interface{}) error {
	data, err := f.backend.Get(ctx, key)
	if err != nil {
		if err == ErrNotFound {
			return wire.NotFound("not found")
		}
		return trace.Wrap(err)
	}
	return trace.Wrap(wire.FastUnmarshal(data, v))
}
