// Package permissions implements the hierarchy-resolution and monotonic
// grant engine described in spec §4.E.
package permissions

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/nahma/sidecar/internal/store"
	"github.com/nahma/sidecar/internal/wire"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sidecar:permissions"})

// Action is one of the gated operations in the action table.
type Action string

const (
	ActionView            Action = "view"
	ActionEdit            Action = "edit"
	ActionCreate          Action = "create"
	ActionDelete          Action = "delete"
	ActionRestore         Action = "restore"
	ActionShareAsViewer   Action = "share-as-viewer"
	ActionShareAsEditor   Action = "share-as-editor"
	ActionShareAsOwner    Action = "share-as-owner"
	ActionDeleteWorkspace Action = "delete-workspace"
	ActionPromoteToOwner  Action = "promote-to-owner"
)

// requiredPermission is the action table from spec §4.E.
var requiredPermission = map[Action]store.Permission{
	ActionView:            store.PermissionViewer,
	ActionEdit:            store.PermissionEditor,
	ActionCreate:          store.PermissionEditor,
	ActionDelete:          store.PermissionEditor,
	ActionRestore:         store.PermissionEditor,
	ActionShareAsViewer:   store.PermissionViewer,
	ActionShareAsEditor:   store.PermissionEditor,
	ActionShareAsOwner:    store.PermissionOwner,
	ActionDeleteWorkspace: store.PermissionOwner,
	ActionPromoteToOwner:  store.PermissionOwner,
}

// Grant is one direct (non-inherited) permission assignment.
type Grant struct {
	UserID     string
	EntityType store.EntityType
	EntityID   string
	Permission store.Permission
}

// ChangeEvent is emitted whenever a grant or revocation changes a user's
// permission on an entity, per spec §4.E's propagation requirement.
type ChangeEvent struct {
	UserID        string
	EntityID      string
	OldPermission store.Permission
	NewPermission store.Permission
}

// LinkRedemption records that a user redeemed a still-live share link on an
// entity, granting that link's permission as a second resolution path.
type LinkRedemption struct {
	UserID     string
	EntityID   string
	Permission store.Permission
	Live       bool
}

// Resolver holds direct grants and link redemptions in memory, keyed by
// (userID, entityID). The store's workspace/folder/document tables supply
// the parent chain for recursive resolution.
type Resolver struct {
	facade *store.Facade

	directGrants map[string]map[string]store.Permission  // userID -> entityID -> permission
	linkGrants   map[string]map[string]LinkRedemption     // userID -> entityID -> redemption
}

// New builds a Resolver backed by facade for parent-chain lookups.
func New(facade *store.Facade) *Resolver {
	return &Resolver{
		facade:       facade,
		directGrants: make(map[string]map[string]store.Permission),
		linkGrants:   make(map[string]map[string]LinkRedemption),
	}
}

// Grant assigns max(existing, p) as the direct grant for user on entity,
// emitting a ChangeEvent describing the transition. Monotonic: it never
// lowers the direct grant (revocation is explicit, via Revoke).
func (r *Resolver) Grant(ctx context.Context, userID string, entityType store.EntityType, entityID string, p store.Permission) (ChangeEvent, error) {
	old, err := r.Effective(ctx, userID, entityType, entityID)
	if err != nil {
		return ChangeEvent{}, err
	}

	existing := r.direct(userID, entityID)
	newDirect := existing
	if p > existing {
		newDirect = p
	}
	r.setDirect(userID, entityID, newDirect)

	updated, err := r.Effective(ctx, userID, entityType, entityID)
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{UserID: userID, EntityID: entityID, OldPermission: old, NewPermission: updated}, nil
}

// Revoke clears the direct grant for user on entity. Effective permission
// may still be non-zero afterward if it resolves through a parent or a
// live link.
func (r *Resolver) Revoke(ctx context.Context, userID string, entityType store.EntityType, entityID string) (ChangeEvent, error) {
	old, err := r.Effective(ctx, userID, entityType, entityID)
	if err != nil {
		return ChangeEvent{}, err
	}
	r.setDirect(userID, entityID, store.PermissionNone)

	updated, err := r.Effective(ctx, userID, entityType, entityID)
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{UserID: userID, EntityID: entityID, OldPermission: old, NewPermission: updated}, nil
}

// RecordLinkRedemption registers that userID redeemed a live share link
// granting p on entityID; it participates in Effective as a second lookup
// path alongside the direct-grant chain.
func (r *Resolver) RecordLinkRedemption(userID, entityID string, p store.Permission) {
	if r.linkGrants[userID] == nil {
		r.linkGrants[userID] = make(map[string]LinkRedemption)
	}
	r.linkGrants[userID][entityID] = LinkRedemption{UserID: userID, EntityID: entityID, Permission: p, Live: true}
}

// InvalidateLinkRedemptions marks every recorded redemption for entityID as
// no longer live, called when an invite is invalidated (spec §4.F).
func (r *Resolver) InvalidateLinkRedemptions(entityID string) {
	for userID, byEntity := range r.linkGrants {
		if red, ok := byEntity[entityID]; ok {
			red.Live = false
			r.linkGrants[userID][entityID] = red
		}
	}
}

func (r *Resolver) direct(userID, entityID string) store.Permission {
	byEntity, ok := r.directGrants[userID]
	if !ok {
		return store.PermissionNone
	}
	return byEntity[entityID]
}

func (r *Resolver) setDirect(userID, entityID string, p store.Permission) {
	if r.directGrants[userID] == nil {
		r.directGrants[userID] = make(map[string]store.Permission)
	}
	r.directGrants[userID][entityID] = p
}

func (r *Resolver) link(userID, entityID string) store.Permission {
	byEntity, ok := r.linkGrants[userID]
	if !ok {
		return store.PermissionNone
	}
	red, ok := byEntity[entityID]
	if !ok || !red.Live {
		return store.PermissionNone
	}
	return red.Permission
}

// Effective resolves the maximum permission userID has on entity: its
// direct grant, the recursive resolution on its parent, and any live link
// redemption, per spec §4.E.
func (r *Resolver) Effective(ctx context.Context, userID string, entityType store.EntityType, entityID string) (store.Permission, error) {
	best := r.direct(userID, entityID)
	if lp := r.link(userID, entityID); lp > best {
		best = lp
	}

	parentType, parentID, hasParent, err := r.parent(ctx, entityType, entityID)
	if err != nil {
		return store.PermissionNone, err
	}
	if hasParent {
		parentPerm, err := r.Effective(ctx, userID, parentType, parentID)
		if err != nil {
			return store.PermissionNone, err
		}
		if parentPerm > best {
			best = parentPerm
		}
	}
	return best, nil
}

// parent returns entity's immediate parent in the containment graph, if any.
func (r *Resolver) parent(ctx context.Context, entityType store.EntityType, entityID string) (store.EntityType, string, bool, error) {
	switch entityType {
	case store.EntityDocument:
		doc, err := r.facade.GetDocument(ctx, entityID)
		if err != nil {
			return "", "", false, err
		}
		if doc.FolderID != "" {
			return store.EntityFolder, doc.FolderID, true, nil
		}
		return store.EntityWorkspace, doc.WorkspaceID, true, nil
	case store.EntityFolder:
		fl, err := r.facade.GetFolder(ctx, entityID)
		if err != nil {
			return "", "", false, err
		}
		if fl.ParentID != "" {
			return store.EntityFolder, fl.ParentID, true, nil
		}
		return store.EntityWorkspace, fl.WorkspaceID, true, nil
	case store.EntityWorkspace:
		return "", "", false, nil
	default:
		return "", "", false, trace.BadParameter("unknown entity type %q", entityType)
	}
}

// Check enforces that userID's effective permission on entity meets action's
// requirement, returning a PERMISSION_DENIED wire error otherwise.
func (r *Resolver) Check(ctx context.Context, userID string, entityType store.EntityType, entityID string, action Action) error {
	required, ok := requiredPermission[action]
	if !ok {
		return trace.BadParameter("unknown action %q", action)
	}
	effective, err := r.Effective(ctx, userID, entityType, entityID)
	if err != nil {
		return err
	}
	if effective < required {
		return wire.PermissionDenied("insufficient permission for " + string(action))
	}
	return nil
}

// CascadeDelete soft-deletes folder (and, transitively through the store's
// own cascade) its entire subtree, returning every soft-deleted id (the
// folder, its descendant folders and their documents). It does not report
// which users held permissions on, or had open, any of those ids.
func (r *Resolver) CascadeDelete(ctx context.Context, folderID string, now time.Time) ([]string, error) {
	deletedIDs, err := r.facade.DeleteFolder(ctx, folderID, now)
	if err != nil {
		return nil, err
	}
	log.WithField("count", len(deletedIDs)).Debug("cascade soft-delete complete")
	return deletedIDs, nil
}
