package webdav

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Resource is a single node returned by a WebDAV PROPFIND listing: a file or
// a directory, with its etag if the server reported one.
type Resource struct {
	Path       string // relative to the client's base URL, always "/"-prefixed
	IsDir      bool
	ETag       string
	Size       int64
	LastModified string
}

// multistatusResponse mirrors the subset of RFC 4918's <multistatus> body
// this client needs: href, resourcetype, getetag, getcontentlength.
type multistatusResponse struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href     string       `xml:"DAV: href"`
	Propstat []davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Status string   `xml:"DAV: status"`
	Prop   davProp  `xml:"DAV: prop"`
}

type davProp struct {
	ResourceType      davResourceType `xml:"DAV: resourcetype"`
	ETag              string          `xml:"DAV: getetag"`
	ContentLength     string          `xml:"DAV: getcontentlength"`
	LastModified      string          `xml:"DAV: getlastmodified"`
}

type davResourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:resourcetype/>
    <d:getetag/>
    <d:getcontentlength/>
    <d:getlastmodified/>
  </d:prop>
</d:propfind>`

// Walk lists remotePath and, recursively, everything beneath it. It first
// attempts a single PROPFIND with Depth: infinity; if the server rejects
// that (not every WebDAV implementation supports it, though Nextcloud
// does), it falls back to per-directory Depth: 1 recursion.
func (c *Client) Walk(ctx context.Context, remotePath string) ([]Resource, error) {
	resources, err := c.propfind(ctx, remotePath, "infinity")
	if err == nil {
		return resources, nil
	}

	var werr *Error
	if !errors.As(err, &werr) || (werr.StatusCode != http.StatusMethodNotAllowed && werr.StatusCode != http.StatusBadRequest) {
		return nil, err
	}

	return c.walkShallow(ctx, remotePath)
}

// walkShallow recurses directory-by-directory with Depth: 1, used against
// servers that reject infinite-depth PROPFIND.
func (c *Client) walkShallow(ctx context.Context, remotePath string) ([]Resource, error) {
	top, err := c.propfind(ctx, remotePath, "1")
	if err != nil {
		return nil, err
	}

	// Only entries strictly beneath remotePath are kept and descended into,
	// so a listing that names a parent or sibling cannot recurse forever.
	prefix := strings.TrimSuffix(normalizeRemotePath(remotePath), "/") + "/"

	var all []Resource

	for _, r := range top {
		if !strings.HasPrefix(r.Path, prefix) {
			continue
		}

		all = append(all, r)

		if r.IsDir {
			children, err := c.walkShallow(ctx, r.Path)
			if err != nil {
				return nil, err
			}

			all = append(all, children...)
		}
	}

	return all, nil
}

// propfind issues a single PROPFIND request at the given depth and parses
// the multistatus body into Resources. The first entry is always
// remotePath itself; it is excluded from the returned slice so callers only
// see remotePath's contents (matching the spec's insert-into-tree usage).
func (c *Client) propfind(ctx context.Context, remotePath, depth string) ([]Resource, error) {
	headers := http.Header{
		"Depth":        []string{depth},
		"Content-Type": []string{"application/xml; charset=utf-8"},
	}

	resp, err := c.Do(ctx, "PROPFIND", remotePath, bytes.NewReader([]byte(propfindBody)), headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webdav: reading propfind body: %w", err)
	}

	var ms multistatusResponse
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, fmt.Errorf("webdav: parsing propfind response: %w", err)
	}

	selfPath := normalizeRemotePath(remotePath)

	var resources []Resource

	for _, r := range ms.Responses {
		href := c.stripBasePath(decodeHref(r.Href))
		if href == selfPath || href == selfPath+"/" {
			continue
		}

		res, ok := resourceFromResponse(href, r)
		if ok {
			resources = append(resources, res)
		}
	}

	return resources, nil
}

// stripBasePath removes the client's base path prefix from a decoded href,
// so Resource.Path is always relative to the client's root regardless of
// how deep the server mounts its DAV endpoint.
func (c *Client) stripBasePath(href string) string {
	if c.basePath != "" && strings.HasPrefix(href, c.basePath) {
		href = href[len(c.basePath):]
	}

	if href == "" {
		href = "/"
	}

	return href
}

func resourceFromResponse(href string, r davResponse) (Resource, bool) {
	for _, ps := range r.Propstat {
		if !strings.HasPrefix(ps.Status, "HTTP/1.1 200") {
			continue
		}

		res := Resource{
			Path:         strings.TrimSuffix(href, "/"),
			IsDir:        ps.Prop.ResourceType.Collection != nil,
			ETag:         strings.Trim(ps.Prop.ETag, `"`),
			LastModified: ps.Prop.LastModified,
		}

		if size, err := strconv.ParseInt(ps.Prop.ContentLength, 10, 64); err == nil {
			res.Size = size
		}

		return res, true
	}

	return Resource{}, false
}

func decodeHref(href string) string {
	unescaped, err := url.PathUnescape(href)
	if err != nil {
		return href
	}

	return unescaped
}

// Get downloads the content of remotePath.
func (c *Client) Get(ctx context.Context, remotePath string) (io.ReadCloser, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, remotePath, nil, nil)
	if err != nil {
		return nil, "", err
	}

	return resp.Body, strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// Put uploads content to remotePath, returning the etag the server assigned.
func (c *Client) Put(ctx context.Context, remotePath string, content io.ReadSeeker) (string, error) {
	resp, err := c.Do(ctx, http.MethodPut, remotePath, content, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// Mkdir creates remotePath as a collection (MKCOL).
func (c *Client) Mkdir(ctx context.Context, remotePath string) error {
	resp, err := c.Do(ctx, "MKCOL", remotePath, nil, nil)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

// Remove deletes remotePath (file or collection, recursively).
func (c *Client) Remove(ctx context.Context, remotePath string) error {
	resp, err := c.Do(ctx, http.MethodDelete, remotePath, nil, nil)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

// Move renames/moves fromPath to toPath.
func (c *Client) Move(ctx context.Context, fromPath, toPath string) error {
	headers := http.Header{
		"Destination": []string{c.baseURL + normalizeRemotePath(toPath)},
		"Overwrite":   []string{"F"},
	}

	resp, err := c.Do(ctx, "MOVE", fromPath, nil, headers)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

// IsOnline issues a lightweight HEAD on the remote root to probe
// reachability. Returns false (not an error) for any network or HTTP
// failure, matching the control loop's use as a boolean transition signal.
func (c *Client) IsOnline(ctx context.Context) bool {
	resp, err := c.Do(ctx, http.MethodHead, "/", nil, nil)
	if err != nil {
		return false
	}

	resp.Body.Close()

	return true
}

// ocsActivityEnvelope is the subset of Nextcloud's OCS Activity API v2
// response this client needs.
type ocsActivityEnvelope struct {
	Ocs struct {
		Data []ocsActivity `json:"data"`
	} `json:"ocs"`
}

type ocsActivity struct {
	ActivityID int64  `json:"activity_id"`
	Type       string `json:"type"`
	Object     struct {
		Path string `json:"objectname"`
	} `json:"object"`
	File struct {
		Path string `json:"path"`
	} `json:"file"`
	// SubjectRich is Nextcloud's [template, params] tuple. For file_moved/
	// file_renamed activities, params carries "oldfile"/"newfile" objects
	// with the paths on either side of the move — nothing else in the
	// payload names the prior path.
	SubjectRich json.RawMessage `json:"subject_rich"`
}

// activityFileRef is one entry of subject_rich's parameter map.
type activityFileRef struct {
	Path string `json:"path"`
}

// renamePaths extracts the old/new paths from a file_moved/file_renamed
// activity's subject_rich tuple. Returns empty strings if the payload
// doesn't carry the shape this client expects.
func renamePaths(subjectRich json.RawMessage) (oldPath, newPath string) {
	if len(subjectRich) == 0 {
		return "", ""
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(subjectRich, &tuple); err != nil || len(tuple) < 2 {
		return "", ""
	}

	var params map[string]activityFileRef
	if err := json.Unmarshal(tuple[1], &params); err != nil {
		return "", ""
	}

	return params["oldfile"].Path, params["newfile"].Path
}

// ActivityKind tags the kind of change an Activity describes.
type ActivityKind int

const (
	ActivityFileCreated ActivityKind = iota
	ActivityFileChanged
	ActivityFileDeleted
	ActivityFileRenamed
)

// Activity is one parsed entry from the OCS Activity feed.
type Activity struct {
	ID      int64
	Kind    ActivityKind
	Path    string
	OldPath string // set only for ActivityFileRenamed
}

// Activities polls Nextcloud's OCS Activity API for events newer than
// sinceID. With sinceID == "" the request carries no since filter, so the
// batch is whatever backlog the feed returns; it is not skipped. Returns the
// parsed batch in
// ascending ID order and the new cursor (the highest ID observed, or
// sinceID unchanged if the batch was empty).
func (c *Client) Activities(ctx context.Context, sinceID string) ([]Activity, string, error) {
	query := "/ocs/v2.php/apps/activity/api/v2/activity/files"
	if sinceID != "" {
		query += "?since=" + sinceID
	}

	headers := http.Header{"OCS-APIRequest": []string{"true"}, "Accept": []string{"application/json"}}

	resp, err := c.Do(ctx, http.MethodGet, query, nil, headers)
	if err != nil {
		return nil, sinceID, err
	}
	defer resp.Body.Close()

	var env ocsActivityEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, sinceID, fmt.Errorf("webdav: decoding activity feed: %w", err)
	}

	activities := make([]Activity, 0, len(env.Ocs.Data))
	cursor := sinceID

	for i := len(env.Ocs.Data) - 1; i >= 0; i-- {
		a := env.Ocs.Data[i]

		kind, ok := classifyActivityType(a.Type)
		if !ok {
			continue
		}

		p := a.Object.Path
		if p == "" {
			p = a.File.Path
		}

		activity := Activity{
			ID:   a.ActivityID,
			Kind: kind,
			Path: normalizeRemotePath(p),
		}

		if kind == ActivityFileRenamed {
			oldPath, newPath := renamePaths(a.SubjectRich)
			if newPath != "" {
				activity.Path = normalizeRemotePath(newPath)
			}

			if oldPath != "" {
				activity.OldPath = normalizeRemotePath(oldPath)
			}
		}

		activities = append(activities, activity)

		idStr := strconv.FormatInt(a.ActivityID, 10)
		if cursor == "" || a.ActivityID > mustParseCursor(cursor) {
			cursor = idStr
		}
	}

	return activities, cursor, nil
}

func mustParseCursor(cursor string) int64 {
	v, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0
	}

	return v
}

func classifyActivityType(t string) (ActivityKind, bool) {
	switch t {
	case "file_created":
		return ActivityFileCreated, true
	case "file_changed":
		return ActivityFileChanged, true
	case "file_deleted":
		return ActivityFileDeleted, true
	case "file_moved", "file_renamed":
		return ActivityFileRenamed, true
	default:
		return 0, false
	}
}

func normalizeRemotePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return path.Clean(p)
}
