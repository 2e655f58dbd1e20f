package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// chunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const chunkAlignment = 320 * 1024

// SimpleUploadMaxSize is the largest payload sent as a single PUT. Larger
// payloads go through an upload session.
const SimpleUploadMaxSize = 4 * 1024 * 1024

// uploadChunkSize is the session chunk size, a multiple of chunkAlignment.
const uploadChunkSize = 32 * chunkAlignment

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL          string `json:"uploadUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

// Upload replaces the content of the file at remotePath with data, creating
// it if needed. Small payloads use one PUT; larger ones use a resumable
// session which is canceled if any chunk fails.
func (c *Client) Upload(ctx context.Context, remotePath string, data []byte) (*Item, error) {
	size := int64(len(data))

	if size <= SimpleUploadMaxSize {
		return c.SimpleUpload(ctx, remotePath, data)
	}

	session, err := c.CreateUploadSession(ctx, remotePath)
	if err != nil {
		return nil, err
	}

	for offset := int64(0); offset < size; offset += uploadChunkSize {
		end := min(offset+uploadChunkSize, size)

		item, chunkErr := c.UploadChunk(ctx, session, data[offset:end], offset, size)
		if chunkErr != nil {
			// Use a fresh context: ctx may be the reason the chunk failed.
			cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if cancelErr := c.CancelUploadSession(cancelCtx, session); cancelErr != nil {
				c.logger.Warn("canceling upload session failed",
					slog.String("path", remotePath),
					slog.String("error", cancelErr.Error()),
				)
			}
			cancel()

			return nil, chunkErr
		}

		if item != nil {
			return item, nil
		}
	}

	return nil, errors.New("graph: upload session ended without a completed item")
}

// SimpleUpload uploads data to remotePath with a single PUT request.
func (c *Client) SimpleUpload(ctx context.Context, remotePath string, data []byte) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("path", remotePath),
		slog.Int("size", len(data)),
	)

	resp, err := c.doRawUpload(ctx, http.MethodPut, itemPath(remotePath)+"/content", data)
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "simple upload")
}

// CreateUploadSession creates a resumable upload session for remotePath.
// Existing content is replaced.
func (c *Client) CreateUploadSession(ctx context.Context, remotePath string) (*UploadSession, error) {
	c.logger.Info("creating upload session", slog.String("path", remotePath))

	bodyBytes, err := json.Marshal(createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: "replace"},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, itemPath(remotePath)+"/createUploadSession", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var usr uploadSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&usr); err != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", err)
	}

	session := &UploadSession{UploadURL: usr.UploadURL}

	if usr.ExpirationDateTime != "" {
		if t, parseErr := time.Parse(time.RFC3339, usr.ExpirationDateTime); parseErr == nil {
			session.ExpirationTime = t
		}
	}

	return session, nil
}

// UploadChunk sends chunk at offset within a payload of total bytes.
// Returns the completed Item on the final chunk (200/201) and nil for
// intermediate chunks (202). The session URL is pre-authenticated.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, chunk []byte, offset, total int64,
) (*Item, error) {
	length := int64(len(chunk))

	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", total),
	)

	contentRange := fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total)

	resp, err := c.doPreAuth(ctx, "upload chunk", func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk))
		if reqErr != nil {
			return nil, fmt.Errorf("graph: creating chunk upload request: %w", reqErr)
		}

		req.Header.Set("Content-Range", contentRange)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("User-Agent", userAgent)
		req.ContentLength = length

		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusAccepted {
		defer resp.Body.Close()

		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, fmt.Errorf("graph: draining chunk response body: %w", drainErr)
		}

		return nil, nil
	}

	return c.decodeItem(resp, "final chunk")
}

// CancelUploadSession deletes an in-progress upload session.
func (c *Client) CancelUploadSession(ctx context.Context, session *UploadSession) error {
	c.logger.Info("canceling upload session")

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, session.UploadURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("graph: creating cancel session request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph: cancel upload session request failed: %w", err)
	}
	defer resp.Body.Close()

	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return fmt.Errorf("graph: draining cancel session response body: %w", drainErr)
	}

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("graph: cancel upload session failed with status %d", resp.StatusCode)
	}

	return nil
}

// doRawUpload sends an authenticated octet-stream request. The payload is
// held in memory, so it is safe to replay on retryable failures.
func (c *Client) doRawUpload(ctx context.Context, method, path string, data []byte) (*http.Response, error) {
	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("graph: obtaining token for upload: %w", err)
	}

	return c.doPreAuth(ctx, "simple upload", func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
		if reqErr != nil {
			return nil, fmt.Errorf("graph: creating raw upload request: %w", reqErr)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("User-Agent", userAgent)
		req.ContentLength = int64(len(data))

		return req, nil
	})
}
