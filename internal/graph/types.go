package graph

import "time"

// Item represents a OneDrive drive item (file or folder).
// Fields are normalized from the Graph API response; callers never see raw API data.
type Item struct {
	ID           string
	Name         string
	Size         int64
	ETag         string
	IsFolder     bool
	MimeType     string
	QuickXorHash string // base64-encoded
	ModifiedAt   time.Time
	DownloadURL  string // pre-authenticated, ephemeral; never log
}

// User represents the authenticated user's profile.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// UploadSession is a resumable upload session for files above the
// simple upload limit.
type UploadSession struct {
	UploadURL      string // pre-authenticated; never log
	ExpirationTime time.Time
}
