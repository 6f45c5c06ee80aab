package models

import (
	"time"
)

// UrlModel stores one shortened URL. Records are removed only by admin
// deletion, so there is no soft-delete column; deleting frees the code.
//
// The unique index on Normalized is a 500-char prefix index: InnoDB caps
// index keys at 3072 bytes and normalized URLs can run to 2048 chars.
type UrlModel struct {
	Base
	Code        string     `json:"code"       gorm:"uniqueIndex;size:50;not null"`
	Original    string     `json:"original"   gorm:"size:2048;not null"`
	Normalized  string     `json:"-"          gorm:"uniqueIndex:idx_urls_normalized,length:500;size:2048;not null"`
	HitCount    int64      `json:"hit_count"  gorm:"default:0"`
	CustomAlias string     `json:"custom_alias,omitempty" gorm:"size:50"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"   gorm:"index"`
	CreatorIP   string     `json:"-"          gorm:"size:45"`
	CreatorUA   string     `json:"-"          gorm:"size:512"`
	Metadata    JSONMap    `json:"metadata,omitempty"     gorm:"type:longtext;serializer:json"`
}

func (UrlModel) TableName() string { return "urls" }

// IsExpired reports whether the record is no longer resolvable at t.
func (u *UrlModel) IsExpired(t time.Time) bool {
	return u.ExpiresAt != nil && !u.ExpiresAt.After(t)
}

// JSONMap is an opaque string-keyed metadata bag serialized as JSON.
type JSONMap map[string]interface{}
