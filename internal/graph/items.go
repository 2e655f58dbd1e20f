package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// listChildrenPageSize is the $top value for children requests.
// 200 is the maximum allowed by the Graph API for drive item collections.
const listChildrenPageSize = 200

// driveRoot is the API path of the signed-in user's drive root.
const driveRoot = "/me/drive/root"

// Timestamp validation bounds; timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// encodePathSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, %, and spaces are encoded per-segment so the
// resulting path is safe for interpolation into Graph API URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// cleanRemote strips leading and trailing slashes so "" addresses the root.
func cleanRemote(remotePath string) string {
	return strings.Trim(remotePath, "/")
}

// itemPath returns the API path addressing the item at remotePath, which is
// relative to the drive root.
func itemPath(remotePath string) string {
	remotePath = cleanRemote(remotePath)
	if remotePath == "" {
		return driveRoot
	}

	return driveRoot + ":/" + encodePathSegments(remotePath) + ":"
}

// driveItemResponse mirrors the Graph API driveItem JSON.
// Unexported; callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	ETag                 string       `json:"eTag"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
	DownloadURL          string       `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type moveItemRequest struct {
	ParentReference *moveParentRef `json:"parentReference,omitempty"`
	Name            string         `json:"name,omitempty"`
}

type moveParentRef struct {
	Path string `json:"path"`
}

// toItem normalizes a Graph API driveItem response into our Item type.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ETag:        d.ETag,
		IsFolder:    d.Folder != nil,
		DownloadURL: d.DownloadURL,
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
		}
	}

	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, d.ID, logger)

	return item
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw, itemID string, logger *slog.Logger) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid lastModifiedDateTime, using current time",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("lastModifiedDateTime out of valid range, using current time",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// decodeItem decodes a driveItem body and normalizes it.
func (c *Client) decodeItem(resp *http.Response, what string) (*Item, error) {
	defer resp.Body.Close()

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding %s response: %w", what, err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// ItemByPath retrieves the drive item at remotePath, relative to the drive
// root. An empty path addresses the root folder.
func (c *Client) ItemByPath(ctx context.Context, remotePath string) (*Item, error) {
	c.logger.Debug("getting item by path", slog.String("path", remotePath))

	resp, err := c.Do(ctx, http.MethodGet, itemPath(remotePath), nil)
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "item")
}

// ChildrenByPath returns all children of the folder at remotePath, handling
// pagination automatically.
func (c *Client) ChildrenByPath(ctx context.Context, remotePath string) ([]Item, error) {
	c.logger.Debug("listing children", slog.String("path", remotePath))

	apiPath := fmt.Sprintf("%s/children?$top=%d", itemPath(remotePath), listChildrenPageSize)

	var items []Item

	for page := 1; apiPath != ""; page++ {
		pageItems, nextPath, err := c.listChildrenPage(ctx, apiPath, page)
		if err != nil {
			return nil, err
		}

		items = append(items, pageItems...)
		apiPath = nextPath
	}

	c.logger.Debug("listed children",
		slog.String("path", remotePath),
		slog.Int("total_items", len(items)),
	)

	return items, nil
}

// listChildrenPage fetches a single page of children and returns the items
// and the next page path (empty if no more pages).
func (c *Client) listChildrenPage(ctx context.Context, path string, page int) ([]Item, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var lcr listChildrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lcr); err != nil {
		return nil, "", fmt.Errorf("graph: decoding children response: %w", err)
	}

	items := make([]Item, 0, len(lcr.Value))
	for i := range lcr.Value {
		items = append(items, lcr.Value[i].toItem(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.Int("page", page),
		slog.Int("count", len(items)),
	)

	if lcr.NextLink == "" {
		return items, "", nil
	}

	nextPath, err := c.stripBaseURL(lcr.NextLink)
	if err != nil {
		return nil, "", err
	}

	return items, nextPath, nil
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path + query string for use with Do().
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("graph: nextLink URL %q does not match base URL %q", fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}

// CreateFolder creates the folder name under parentPath.
// Uses conflictBehavior "fail", so an existing name returns ErrConflict.
func (c *Client) CreateFolder(ctx context.Context, parentPath, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent", parentPath),
		slog.String("name", name),
	)

	bodyBytes, err := json.Marshal(createFolderRequest{
		Name:             name,
		Folder:           folderFacet{},
		ConflictBehavior: "fail",
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling create folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, itemPath(parentPath)+"/children", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "create folder")
}

// MoveItem moves the item at fromPath to newParentPath under newName.
func (c *Client) MoveItem(ctx context.Context, fromPath, newParentPath, newName string) (*Item, error) {
	c.logger.Info("moving item",
		slog.String("from", fromPath),
		slog.String("new_parent", newParentPath),
		slog.String("new_name", newName),
	)

	parentRef := "/drive/root"
	if p := cleanRemote(newParentPath); p != "" {
		parentRef += ":/" + p
	}

	bodyBytes, err := json.Marshal(moveItemRequest{
		ParentReference: &moveParentRef{Path: parentRef},
		Name:            newName,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling move request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPatch, itemPath(fromPath), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "move")
}

// DeleteItem deletes the item at remotePath. Returns nil on success (HTTP 204).
func (c *Client) DeleteItem(ctx context.Context, remotePath string) error {
	c.logger.Info("deleting item", slog.String("path", remotePath))

	resp, err := c.Do(ctx, http.MethodDelete, itemPath(remotePath), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 204 No Content; drain to reuse the connection.
	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("graph: draining delete response body: %w", copyErr)
	}

	return nil
}
