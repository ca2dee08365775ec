package database

import "time"

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Secret is one credential value in secret storage. Value is Fernet-encrypted.
type Secret struct {
	Key       string    `gorm:"primaryKey;size:512"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TransferRecord is one audited transfer operation.
type TransferRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ServerKey  string    `gorm:"index;not null" json:"server_key"`
	Operation  string    `gorm:"index;not null" json:"operation"`
	LocalPath  string    `json:"local_path,omitempty"`
	RemotePath string    `json:"remote_path"`
	Bytes      int64     `json:"bytes"`
	Size       string    `json:"size"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"index;autoCreateTime" json:"created_at"`
}
