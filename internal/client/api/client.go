// Package api is a thin HTTP client for the sharedrop public surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/sharedrop/internal/common"
)

// Error is a non-2xx answer from the server. It unwraps to the matching
// common sentinel where one exists.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return common.ErrorNotFound
	case http.StatusUnauthorized:
		return common.ErrorUnauthorized
	case http.StatusGone:
		return common.ErrTransferExpired
	case http.StatusBadRequest:
		return common.ErrorValidation
	case http.StatusUnprocessableEntity:
		return common.ErrIncompleteParts
	default:
		return nil
	}
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL. token is the sender's bearer token and
// may be empty for the public retrieval endpoints.
func New(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

func (c *Client) Initiate(ctx context.Context, filename, contentType string, index int) (*Session, error) {
	var s Session
	err := c.post(ctx, "/upload/initiate", map[string]any{
		"filename":    filename,
		"contentType": contentType,
		"index":       index,
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) PartURL(ctx context.Context, sessionID, objectKey string, partNumber int32) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.post(ctx, "/upload/get-part-url", map[string]any{
		"sessionId":  sessionID,
		"objectKey":  objectKey,
		"partNumber": partNumber,
	}, &out)
	return out.URL, err
}

func (c *Client) ListParts(ctx context.Context, sessionID, objectKey string) ([]Part, error) {
	var out struct {
		Parts []Part `json:"parts"`
	}
	err := c.post(ctx, "/upload/list-parts", map[string]any{"sessionId": sessionID, "objectKey": objectKey}, &out)
	return out.Parts, err
}

// Complete finalizes a session. With md set the server records the
// transfer too and the result is non-nil.
func (c *Client) Complete(ctx context.Context, sessionID, objectKey string, parts []Part, md *TransferMetadata) (*Transfer, error) {
	var out struct {
		Transfer *Transfer `json:"transfer"`
	}
	err := c.post(ctx, "/upload/complete", map[string]any{
		"sessionId":        sessionID,
		"objectKey":        objectKey,
		"parts":            parts,
		"transferMetadata": md,
	}, &out)
	return out.Transfer, err
}

func (c *Client) Abort(ctx context.Context, sessionID, objectKey string) error {
	return c.post(ctx, "/upload/abort", map[string]any{"sessionId": sessionID, "objectKey": objectKey}, nil)
}

func (c *Client) RecordTransfer(ctx context.Context, files []UploadedFile, md TransferMetadata) (*Transfer, error) {
	var out struct {
		Transfer *Transfer `json:"transfer"`
	}
	err := c.post(ctx, "/upload/transfer", map[string]any{"files": files, "transferMetadata": md}, &out)
	return out.Transfer, err
}

func (c *Client) Info(ctx context.Context, shareToken string) (*TransferInfo, error) {
	var out struct {
		Transfer TransferInfo `json:"transfer"`
	}
	if err := c.do(ctx, http.MethodGet, "/transfer/"+url.PathEscape(shareToken), nil, &out); err != nil {
		return nil, err
	}
	return &out.Transfer, nil
}

func (c *Client) Confirm(ctx context.Context, shareToken, password string) (*Confirmation, error) {
	var body any
	if password != "" {
		body = map[string]string{"password": password}
	}
	var out Confirmation
	if err := c.do(ctx, http.MethodPost, "/transfer/"+url.PathEscape(shareToken), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download streams one file (fileID set) or the whole transfer. The caller
// closes the body. The returned name comes from Content-Disposition.
func (c *Client) Download(ctx context.Context, shareToken, fileID, grant string) (io.ReadCloser, string, error) {
	q := url.Values{}
	if fileID != "" {
		q.Set("fileId", fileID)
	}
	if grant != "" {
		q.Set("grant", grant)
	}
	u := c.baseURL + "/transfer/" + url.PathEscape(shareToken) + "/download"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", readError(resp)
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	return resp.Body, name, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(b, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(b))
	}
	return &Error{StatusCode: resp.StatusCode, Message: body.Error}
}
