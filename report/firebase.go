package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// FirebaseStore patches a Firebase Realtime Database through its REST API.
type FirebaseStore struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewFirebaseStore targets the database at baseURL, e.g.
// https://my-project.firebaseio.com. authToken may be empty for open databases.
func NewFirebaseStore(baseURL, authToken string, client *http.Client) (*FirebaseStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid firebase url %v", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("firebase url %v must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &FirebaseStore{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client:    client,
	}, nil
}

func (f *FirebaseStore) endpoint(p string) string {
	u := f.baseURL + "/" + strings.Trim(p, "/") + ".json"
	if f.authToken != "" {
		u += "?auth=" + url.QueryEscape(f.authToken)
	}
	return u
}

// Patch sends a PATCH with fields as a JSON object, merging them into path.
func (f *FirebaseStore) Patch(ctx context.Context, p string, fields map[string]string) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "unable to encode fields")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, f.endpoint(p), bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "unable to build request for %v", p)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "unable to patch %v", p)
	}
	defer resp.Body.Close()
	//nolint:errcheck
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("patching %v returned %v", p, resp.Status)
	}
	return nil
}

// Close drops idle connections.
func (f *FirebaseStore) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
