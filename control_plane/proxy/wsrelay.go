package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codehub/controlplane/control_plane/activity"
	"github.com/codehub/controlplane/control_plane/runtime"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	// Browsers connect cross-origin to a workspace's proxied subdomain/path
	// by design; ownership is already enforced by the session/workspace
	// checks that ran before Upgrade is ever called.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func dialUpstreamWS(upstream *runtime.Upstream, path, rawQuery string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", upstream.Host, upstream.Port), Path: "/" + path, RawQuery: rawQuery}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	return dialer.Dial(u.String(), nil)
}

// relayWS pumps frames in both directions between an already-upgraded
// client connection and the dialed backend connection, recording activity
// on every frame. Either side closing its read tears down the other: the
// closed connection's Close() makes the paired pump's blocked read fail.
func relayWS(clientConn, backendConn *websocket.Conn, workspaceID string, buf *activity.Buffer) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer backendConn.Close()
		for {
			mt, data, err := clientConn.ReadMessage()
			if err != nil {
				return
			}
			buf.Record(workspaceID)
			if err := backendConn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer clientConn.Close()
		for {
			mt, data, err := backendConn.ReadMessage()
			if err != nil {
				return
			}
			buf.Record(workspaceID)
			if err := clientConn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}()

	wg.Wait()
}
