package db

import "time"

// Setting is a key-value configuration entry stored in the database. Keys
// are namespaced by convention (e.g. "ui.theme", "broadcast.defaults") and
// values hold raw JSON so callers decide the shape of each entry.
//
// The key itself is the primary key; UpdatedAt is maintained by GORM.
type Setting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}
