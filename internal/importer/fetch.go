package importer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"

	log "github.com/sirupsen/logrus"
)

// ImportURL downloads a batch file and imports it. token, when set, is sent
// as a bearer token.
func (i *Importer) ImportURL(ctx context.Context, url string, token string) (*Result, error) {
	l := log.WithFields(log.Fields{
		"package": "importer",
		"func":    "ImportURL",
		"url":     url,
	})
	l.Info("Fetching batch file")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		l.Error(err)
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if log.IsLevelEnabled(log.DebugLevel) {
		rd, derr := httputil.DumpRequest(req, false)
		if derr != nil {
			l.Error(derr)
			return nil, derr
		}
		l.Debugf("Request: %s", string(rd))
	}
	if token != "" {
		req.Header.Add("Authorization", "Bearer "+token)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		l.Error(err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		l.Errorf("Error fetching batch file: %s", resp.Status)
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	return i.Import(ctx, resp.Body)
}
