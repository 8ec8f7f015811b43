package meta

import "github.com/nahma/sidecar/internal/store"

func parsePermission(s string) (store.Permission, bool) {
	switch s {
	case "viewer":
		return store.PermissionViewer, true
	case "editor":
		return store.PermissionEditor, true
	case "owner":
		return store.PermissionOwner, true
	default:
		return store.PermissionNone, false
	}
}

func permissionString(p store.Permission) string {
	switch p {
	case store.PermissionViewer:
		return "viewer"
	case store.PermissionEditor:
		return "editor"
	case store.PermissionOwner:
		return "owner"
	default:
		return "none"
	}
}

func parseEntityType(s string) (store.EntityType, bool) {
	switch store.EntityType(s) {
	case store.EntityWorkspace, store.EntityFolder, store.EntityDocument:
		return store.EntityType(s), true
	default:
		return "", false
	}
}
