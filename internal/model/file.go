package model

import "time"

// FileRecord 上传文件的元数据，上传后不可变。
// PageCount 为 0 表示页数未知。
type FileRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`

	FileID       string `gorm:"size:128;uniqueIndex;not null" json:"file_id"`
	OriginalName string `gorm:"size:255;not null" json:"original_name"`
	StoragePath  string `gorm:"size:512;not null" json:"-"`
	MimeType     string `gorm:"size:128" json:"mime_type"`
	SizeBytes    int64  `gorm:"not null;default:0" json:"size_bytes"`
	PageCount    int    `gorm:"not null;default:0" json:"page_count"`
}

func (FileRecord) TableName() string { return "files" }
