package store

import (
	"time"

	"prodsync/internal/catalog"
)

// Sync run lifecycle states.
const (
	SyncStatusRunning   = "running"
	SyncStatusPaused    = "paused"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
	SyncStatusCancelled = "cancelled"
)

// Sync run modes.
const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"
	SyncTypeSelective   = "selective"
)

// Image is one stored binary: the original upload of a product photo plus
// its generated thumbnail set. Rows are soft-deleted by clearing is_active;
// at most one active row exists per (product, type, content hash).
type Image struct {
	ImageID        string            `json:"imageId"`
	ProductID      string            `json:"productId"`
	Type           catalog.ImageType `json:"type"`
	BucketName     string            `json:"bucketName"`
	ObjectName     string            `json:"objectName"`
	OriginalName   string            `json:"originalName,omitempty"`
	FileSize       int64             `json:"fileSize"`
	MimeType       string            `json:"mimeType"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	PublicURL      string            `json:"publicUrl"`
	MD5Hash        string            `json:"md5Hash"`
	SHA256Hash     string            `json:"sha256Hash,omitempty"`
	Thumbnails     []Thumbnail       `json:"thumbnails"`
	SourceToken    string            `json:"sourceToken,omitempty"`
	IsActive       bool              `json:"isActive"`
	AccessCount    int64             `json:"accessCount"`
	LastAccessedAt time.Time         `json:"lastAccessedAt,omitzero"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Thumbnail is one generated rendition of a stored image.
type Thumbnail struct {
	Size       string `json:"size"`
	ObjectName string `json:"objectName"`
	URL        string `json:"url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// SyncLog is the persisted record of one sync run.
type SyncLog struct {
	LogID     string         `json:"logId"`
	SyncType  string         `json:"syncType"`
	Status    string         `json:"status"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime,omitzero"`
	Stats     SyncStats      `json:"stats"`
	ErrorLogs []SyncError    `json:"errorLogs"`
	Config    map[string]any `json:"config,omitempty"`
	Progress  Progress       `json:"progress"`
}

// SyncStats are the counters accumulated over one run.
type SyncStats struct {
	TotalRecords    int `json:"totalRecords"`
	CreatedRecords  int `json:"createdRecords"`
	UpdatedRecords  int `json:"updatedRecords"`
	DeletedRecords  int `json:"deletedRecords"`
	FailedRecords   int `json:"failedRecords"`
	ProcessedImages int `json:"processedImages"`
	FailedImages    int `json:"failedImages"`
}

// SyncError is one per-record failure captured during a run.
type SyncError struct {
	Type      string    `json:"type"`
	ProductID string    `json:"productId,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is the live position of a run, persisted with each flush so an
// interrupted run leaves its last known state behind.
type Progress struct {
	Stage            string `json:"stage"`
	Percentage       int    `json:"percentage"`
	CurrentOperation string `json:"currentOperation"`
}

// SyncLogFilter narrows a sync history query. Zero values mean "any".
type SyncLogFilter struct {
	Status    string
	SyncType  string
	StartDate time.Time
	EndDate   time.Time
	Page      int
	Limit     int
}

// Pagination describes one page of a filtered result set.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ProductRow is one physical product row, exposed for duplicate cleanup
// where row identity matters.
type ProductRow struct {
	RowID    string
	Product  *catalog.Product
	SyncTime time.Time
}
