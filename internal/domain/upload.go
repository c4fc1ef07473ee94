package domain

// UploadJob is produced by the upload subsystem; the chat core only
// ever consumes the finished FileURL off a done job.
type UploadJob struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Progress int          `json:"progress"` // 0-100
	Status   UploadStatus `json:"status"`
	FileURL  *string      `json:"file_url,omitempty"`
	Cancel   func()       `json:"-"`
}
