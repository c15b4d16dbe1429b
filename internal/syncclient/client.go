// Package syncclient is the HTTP client the change detector and sync
// consumer use to talk to the Sync Server API (spec §4.5 / §6). It is a
// thin wrapper over net/http: the wire format (JSON + multipart + raw
// bytes, base85-encoded diffs) is bespoke enough that no pack HTTP client
// library fits better than net/http directly (see DESIGN.md).
package syncclient

import (
	"bytes"
	"context"
	"encoding/ascii85"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/OpenMined/syftbox-go/internal/email"
	"github.com/OpenMined/syftbox-go/internal/syncerr"
)

// requestTimeout bounds every network call, per spec §5's "30 s" default.
const requestTimeout = 30 * time.Second

// FileMetadata mirrors the wire shape returned by dir_state/get_metadata.
type FileMetadata struct {
	Path      string `json:"path"`
	Hash      string `json:"hash"`
	SizeBytes int64  `json:"size"`
	MtimeNS   int64  `json:"mtime"`
}

// Client calls the Sync Server API over HTTP.
type Client struct {
	baseURL string
	viewer  email.Address
	http    *http.Client
}

// New creates a Client for baseURL, identifying as viewer on every request
// (the "email" header the transport's auth middleware is expected to
// populate — see spec.md §1's Non-goals on auth middleware itself).
func New(baseURL string, viewer email.Address) *Client {
	return &Client{
		baseURL: baseURL,
		viewer:  viewer,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("syncclient: building request for %s: %w", path, err)
	}

	req.Header.Set("email", c.viewer.String())

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.ErrTransport, path, "", err.Error())
	}

	return resp, classifyStatus(path, resp)
}

func classifyStatus(path string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return syncerr.Wrap(syncerr.ErrNotFound, path, "", "not found")
	case http.StatusConflict:
		return syncerr.Wrap(syncerr.ErrConflict, path, "", "conflict")
	case http.StatusForbidden:
		return syncerr.Wrap(syncerr.ErrForbidden, path, "", "forbidden")
	case http.StatusUnprocessableEntity:
		return syncerr.Wrap(syncerr.ErrHashMismatch, path, "", "hash mismatch")
	case http.StatusMultipleChoices:
		return syncerr.Wrap(syncerr.ErrAmbiguous, path, "", "ambiguous match")
	default:
		if resp.StatusCode >= 500 {
			return syncerr.Wrap(syncerr.ErrTransport, path, "", fmt.Sprintf("server error %d", resp.StatusCode))
		}

		return syncerr.Wrap(syncerr.ErrTransport, path, "", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

func postJSON(ctx context.Context, c *Client, path string, reqBody, respBody any) error {
	var buf bytes.Buffer
	if reqBody != nil {
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			return fmt.Errorf("syncclient: encoding request for %s: %w", path, err)
		}
	}

	resp, err := c.post(ctx, path, &buf, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if respBody == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("syncclient: decoding response from %s: %w", path, err)
	}

	return nil
}

// Datasites calls POST /sync/datasites.
func (c *Client) Datasites(ctx context.Context) ([]string, error) {
	var out []string
	if err := postJSON(ctx, c, "/sync/datasites", nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// DirState calls POST /sync/dir_state for the given snapshot-relative
// directory.
func (c *Client) DirState(ctx context.Context, dir string) ([]FileMetadata, error) {
	req := struct {
		Dir string `json:"dir"`
	}{Dir: dir}

	var out []FileMetadata
	if err := postJSON(ctx, c, "/sync/dir_state", req, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// GetMetadata calls POST /sync/get_metadata with a path-like filter.
func (c *Client) GetMetadata(ctx context.Context, pathLike string) ([]FileMetadata, error) {
	req := struct {
		PathLike string `json:"path_like"`
	}{PathLike: pathLike}

	var out []FileMetadata
	if err := postJSON(ctx, c, "/sync/get_metadata", req, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// DiffResult is the wire shape returned by get_diff.
type DiffResult struct {
	Path string
	Diff []byte
	Hash string
}

// GetDiff calls POST /sync/get_diff, base85-decoding the returned diff.
func (c *Client) GetDiff(ctx context.Context, path string, signature []byte) (DiffResult, error) {
	req := struct {
		Path      string `json:"path"`
		Signature string `json:"signature"`
	}{Path: path, Signature: encodeBase85(signature)}

	var resp struct {
		Path string `json:"path"`
		Diff string `json:"diff"`
		Hash string `json:"hash"`
	}

	if err := postJSON(ctx, c, "/sync/get_diff", req, &resp); err != nil {
		return DiffResult{}, err
	}

	diff, err := decodeBase85(resp.Diff)
	if err != nil {
		return DiffResult{}, fmt.Errorf("syncclient: decoding diff payload: %w", err)
	}

	return DiffResult{Path: resp.Path, Diff: diff, Hash: resp.Hash}, nil
}

// ApplyDiffResult is the wire shape returned by apply_diff.
type ApplyDiffResult struct {
	Path         string
	CurrentHash  string
	PreviousHash string
}

// ApplyDiff calls POST /sync/apply_diff.
func (c *Client) ApplyDiff(ctx context.Context, path string, diff []byte, expectedHash string) (ApplyDiffResult, error) {
	req := struct {
		Path         string `json:"path"`
		Diff         string `json:"diff"`
		ExpectedHash string `json:"expected_hash"`
	}{Path: path, Diff: encodeBase85(diff), ExpectedHash: expectedHash}

	var resp struct {
		Path         string `json:"path"`
		CurrentHash  string `json:"current_hash"`
		PreviousHash string `json:"previous_hash"`
	}

	if err := postJSON(ctx, c, "/sync/apply_diff", req, &resp); err != nil {
		return ApplyDiffResult{}, err
	}

	return ApplyDiffResult{Path: resp.Path, CurrentHash: resp.CurrentHash, PreviousHash: resp.PreviousHash}, nil
}

// Create calls POST /sync/create with a multipart file upload. Fails with
// syncerr.ErrConflict if the path already has a record.
func (c *Client) Create(ctx context.Context, path string, content []byte) error {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("path", path); err != nil {
		return fmt.Errorf("syncclient: writing path field: %w", err)
	}

	part, err := mw.CreateFormFile("file", path)
	if err != nil {
		return fmt.Errorf("syncclient: creating form file: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("syncclient: writing file content: %w", err)
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("syncclient: closing multipart writer: %w", err)
	}

	resp, err := c.post(ctx, "/sync/create", &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

// Delete calls POST /sync/delete.
func (c *Client) Delete(ctx context.Context, path string) error {
	req := struct {
		Path string `json:"path"`
	}{Path: path}

	return postJSON(ctx, c, "/sync/delete", req, nil)
}

// Download calls POST /sync/download and returns the raw file bytes.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	req := struct {
		Path string `json:"path"`
	}{Path: path}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("syncclient: encoding download request: %w", err)
	}

	resp, err := c.post(ctx, "/sync/download", &buf, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("syncclient: reading download body: %w", err)
	}

	return data, nil
}

// encodeBase85 / decodeBase85 implement the wire encoding spec.md §6
// requires for diff and signature payloads. No pack or mainstream library
// offers a Base85 codec at all; stdlib ascii85 is used consistently by
// both ends of this all-Go reimplementation (see DESIGN.md).
func encodeBase85(data []byte) string {
	out := make([]byte, ascii85.MaxEncodedLen(len(data)))
	n := ascii85.Encode(out, data)

	return string(out[:n])
}

func decodeBase85(s string) ([]byte, error) {
	out := make([]byte, 4*len(s)) // each 'z' character expands to 4 bytes

	n, _, err := ascii85.Decode(out, []byte(s), true)
	if err != nil {
		return nil, err
	}

	return out[:n], nil
}
