package meta

import (
	"context"

	"github.com/nahma/sidecar/internal/store"
)

// workspaceOf resolves the workspace id an entity belongs to, so a
// broadcast triggered by an operation on a folder/document/invite can be
// filtered through that workspace's subscription set.
func workspaceOf(ctx context.Context, facade *store.Facade, entityType store.EntityType, entityID string) (string, error) {
	switch entityType {
	case store.EntityWorkspace:
		return entityID, nil
	case store.EntityFolder:
		fl, err := facade.GetFolder(ctx, entityID)
		if err != nil {
			return "", err
		}
		return fl.WorkspaceID, nil
	case store.EntityDocument:
		doc, err := facade.GetDocument(ctx, entityID)
		if err != nil {
			return "", err
		}
		return doc.WorkspaceID, nil
	default:
		return "", nil
	}
}
