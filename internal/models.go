package internal

import (
	"time"
)

const (
	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
)

// ShortURL is the durable, authoritative mapping of a code to its destination.
// A nil OwnerID marks an anonymous owner.
type ShortURL struct {
	ID          int64     `gorm:"primaryKey;type:bigint"`
	Code        string    `gorm:"type:varchar(50);uniqueIndex;not null"`
	Destination string    `gorm:"type:text;not null"`
	OwnerID     *int64    `gorm:"index"`
	CreatorIP   string    `gorm:"type:varchar(64);index"`
	Name        string    `gorm:"type:varchar(150)"`
	Clicks      int64     `gorm:"not null;default:0;check:clicks >= 0"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (u *ShortURL) IsAnonymous() bool {
	return u.OwnerID == nil
}

// View returns the cacheable subset of the record.
func (u *ShortURL) View() CachedShortURL {
	var owner int64
	if u.OwnerID != nil {
		owner = *u.OwnerID
	}
	return CachedShortURL{
		Code:        u.Code,
		Destination: u.Destination,
		CreatedAt:   u.CreatedAt,
		OwnerID:     owner,
	}
}

// CachedShortURL is the denormalized record kept in the resolution cache.
// OwnerID 0 means anonymous. It never carries the click counter.
type CachedShortURL struct {
	Code        string
	Destination string
	CreatedAt   time.Time
	OwnerID     int64
}

func (v CachedShortURL) IsAnonymous() bool {
	return v.OwnerID == 0
}

// IsExpired reports whether an anonymous link is older than window.
// Links with an owner never expire.
func (v CachedShortURL) IsExpired(now time.Time, window time.Duration) bool {
	if !v.IsAnonymous() {
		return false
	}
	return now.Sub(v.CreatedAt) > window
}

// Fingerprint is the visitor snapshot captured for one redirect.
type Fingerprint struct {
	ID             uint64            `gorm:"primaryKey;autoIncrement:false"`
	IPAddress      string            `gorm:"type:varchar(64)"`
	UserAgent      string            `gorm:"type:text"`
	BrowserName    string            `gorm:"type:varchar(100)"`
	BrowserVersion string            `gorm:"type:varchar(100)"`
	OS             string            `gorm:"type:varchar(100)"`
	DeviceType     string            `gorm:"type:varchar(20)"`
	Referrer       string            `gorm:"type:text"`
	Data           map[string]string `gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time
}

// Click is an append-only fact. The fingerprint is referenced, not owned.
type Click struct {
	ID            int64        `gorm:"primaryKey"`
	ShortCode     string       `gorm:"type:varchar(50);not null;index:idx_click_code_time,priority:1"`
	ShortURL      ShortURL     `gorm:"foreignKey:ShortCode;references:Code;constraint:OnDelete:CASCADE"`
	FingerprintID *uint64      `gorm:"index"`
	Fingerprint   *Fingerprint `gorm:"foreignKey:FingerprintID;constraint:OnDelete:SET NULL"`
	ClickedAt     time.Time    `gorm:"not null;index:idx_click_code_time,priority:2,sort:desc"`
}

// ClickTask is the message handed to the analytics worker.
type ClickTask struct {
	Code          string    `json:"short_code"`
	FingerprintID uint64    `json:"fingerprint_id"`
	RequestID     string    `json:"request_id,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}
