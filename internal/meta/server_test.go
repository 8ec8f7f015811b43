package meta

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nahma/sidecar/internal/invites"
	"github.com/nahma/sidecar/internal/permissions"
	"github.com/nahma/sidecar/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	facade := store.New(store.NewMemoryBackend())
	resolver := permissions.New(facade)
	inviteManager := invites.New(facade, resolver)

	srv, err := NewServer(facade, resolver, inviteManager)
	require.NoError(t, err)

	httpSrv := httptest.NewServer(srv)
	return httpSrv, func() { httpSrv.Close() }
}

func dial(t *testing.T, httpSrv *httptest.Server, sessionKey string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "set-key", "sessionKey": sessionKey}))
	var status map[string]interface{}
	require.NoError(t, conn.ReadJSON(&status))
	require.Equal(t, "active", status["status"])
	return conn
}

func TestCreateWorkspaceAndListIsolation(t *testing.T) {
	httpSrv, cleanup := newTestServer(t)
	defer cleanup()

	c1 := dial(t, httpSrv, "session-key-1")
	defer c1.Close()
	c2 := dial(t, httpSrv, "session-key-2")
	defer c2.Close()

	require.NoError(t, c1.WriteJSON(map[string]string{"type": "create-workspace", "name": "acme"}))
	var created map[string]interface{}
	require.NoError(t, c1.ReadJSON(&created))
	require.Equal(t, "workspace-created", created["type"])

	require.NoError(t, c2.WriteJSON(map[string]string{"type": "list-workspaces"}))
	var list map[string]interface{}
	require.NoError(t, c2.ReadJSON(&list))
	workspaces, _ := list["workspaces"].([]interface{})
	require.Empty(t, workspaces, "a connection that never joined W must see no trace of it")
}

func TestAuthRequiredBeforeSetKey(t *testing.T) {
	httpSrv, cleanup := newTestServer(t)
	defer cleanup()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "create-workspace", "name": "acme"}))
	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "error", reply["type"])
	require.Equal(t, "AUTH_REQUIRED", reply["code"])
}

func TestCreateInviteRedeemGrantsPermission(t *testing.T) {
	httpSrv, cleanup := newTestServer(t)
	defer cleanup()

	owner := dial(t, httpSrv, "owner-key")
	defer owner.Close()

	require.NoError(t, owner.WriteJSON(map[string]string{"type": "create-workspace", "name": "acme"}))
	var created map[string]interface{}
	require.NoError(t, owner.ReadJSON(&created))
	ws := created["workspace"].(map[string]interface{})
	wsID := ws["id"].(string)

	require.NoError(t, owner.WriteJSON(map[string]interface{}{
		"type": "create-invite", "entityType": "workspace", "entityId": wsID, "permission": "editor",
	}))
	var invResp map[string]interface{}
	require.NoError(t, owner.ReadJSON(&invResp))
	require.Equal(t, "invite-created", invResp["type"])
	token := invResp["token"].(string)

	guest := dial(t, httpSrv, "guest-key")
	defer guest.Close()
	require.NoError(t, guest.WriteJSON(map[string]string{"type": "redeem-invite", "token": token}))
	var redeemResp map[string]interface{}
	require.NoError(t, guest.ReadJSON(&redeemResp))
	require.Equal(t, "invite-redeemed", redeemResp["type"])
	require.Equal(t, "editor", redeemResp["permission"])
}
