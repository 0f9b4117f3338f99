// internal/evaluation/attachments/blobstore.go
package attachments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/httpclient"
)

// BlobStore is the opaque attachment storage contract.
type BlobStore interface {
	PutAttachment(ctx context.Context, submissionID, documentID string, data []byte, contentType string) (string, error)
	GetAttachmentMeta(ctx context.Context, submissionID, documentID string) (*AttachmentMeta, error)
}

type AttachmentMeta struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// HTTPBlobStore talks to the blob store service over HTTP.
type HTTPBlobStore struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewHTTPBlobStore(baseURL, apiKey string, client *httpclient.Client) *HTTPBlobStore {
	return &HTTPBlobStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
	}
}

func (b *HTTPBlobStore) PutAttachment(ctx context.Context, submissionID, documentID string, data []byte, contentType string) (string, error) {
	url := fmt.Sprintf("%s/submissions/%s/attachments/%s", b.baseURL, submissionID, documentID)

	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", errors.NewBlobStoreFailedError(err)
	}
	req.Header.Set("Content-Type", contentType)
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.DoWithContext(ctx, req)
	if err != nil {
		return "", errors.NewBlobStoreFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", errors.NewBlobStoreFailedError(fmt.Errorf("put attachment: status %d: %s", resp.StatusCode, string(body)))
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.NewBlobStoreFailedError(fmt.Errorf("decode put response: %w", err))
	}

	return result.URL, nil
}

func (b *HTTPBlobStore) GetAttachmentMeta(ctx context.Context, submissionID, documentID string) (*AttachmentMeta, error) {
	url := fmt.Sprintf("%s/submissions/%s/attachments/%s/meta", b.baseURL, submissionID, documentID)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewBlobStoreFailedError(err)
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.DoWithContext(ctx, req)
	if err != nil {
		return nil, errors.NewBlobStoreFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewBlobStoreFailedError(fmt.Errorf("get attachment meta: status %d", resp.StatusCode))
	}

	var meta AttachmentMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, errors.NewBlobStoreFailedError(fmt.Errorf("decode meta response: %w", err))
	}

	return &meta, nil
}
