package common

// AuthorizationHeaderName carries the sender's bearer token.
const AuthorizationHeaderName = "Authorization"

// DownloadGrantHeaderName carries the grant issued by a successful
// download confirmation.
const DownloadGrantHeaderName = "X-Download-Grant"

// Upload status values shared by transfers and files.
const (
	StatusUploading = "uploading"
	StatusReady     = "ready"
	StatusPending   = "pending"
	StatusCompleted = "completed"
)
