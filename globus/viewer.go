package globus

import (
	"net/url"
	"strings"
)

// FileManagerURL links to the web file manager opened on path of endpointID.
func FileManagerURL(webAppURL, endpointID, path string) string {
	if webAppURL == "" {
		webAppURL = DefaultWebAppURL
	}
	query := url.Values{}
	query.Set("origin_id", endpointID)
	query.Set("origin_path", path)
	return strings.TrimRight(webAppURL, "/") + "/file-manager?" + query.Encode()
}
