package proxy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/store"
)

// Static status pages served for non-RUNNING workspace states, each a
// redirect target carrying the query params the page needs to render
// (spec §4.J step 3).

func startingPageURL(ws *domain.Workspace) string {
	return fmt.Sprintf("/static/proxy/starting.html?id=%s&name=%s", url.QueryEscape(ws.ID), url.QueryEscape(ws.Name))
}

func restoringPageURL(ws *domain.Workspace) string {
	return fmt.Sprintf("/static/proxy/restoring.html?id=%s&name=%s", url.QueryEscape(ws.ID), url.QueryEscape(ws.Name))
}

func limitExceededPageURL(running []store.RunningWorkspace, max int) string {
	parts := make([]string, len(running))
	for i, rw := range running {
		parts[i] = fmt.Sprintf("%s:%s", rw.ID, url.QueryEscape(rw.Name))
	}
	return fmt.Sprintf("/static/proxy/limit.html?max=%d&workspaces=%s", max, strings.Join(parts, ","))
}

func errorPageURL(ws *domain.Workspace) string {
	params := fmt.Sprintf("phase=%s&name=%s", url.QueryEscape(string(ws.Phase)), url.QueryEscape(ws.Name))
	if ws.ErrorReason != "" {
		params += "&error=" + url.QueryEscape(string(ws.ErrorReason))
	}
	return "/static/proxy/error.html?" + params
}
