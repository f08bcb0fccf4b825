package models

// Track represents one audio file in the library. Tracks are immutable once
// resolved and are cached for the lifetime of the process.
type Track struct {
	ID          string `json:"id"` // digest of the library-relative path
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	TrackNumber int    `json:"trackNumber"`
	Duration    int    `json:"duration"` // in seconds, 0 when unknown
	MIMEType    string `json:"mimeType"`
	FilePath    string `json:"-"` // don't expose file path to client
	FileSize    int64  `json:"fileSize"`
}
