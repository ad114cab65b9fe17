package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// MatchRecord is the persisted history of one match the authority has run.
type MatchRecord struct {
	ID        uint64 `gorm:"primaryKey"`
	Scene     string `gorm:"not null"`
	StartedAt time.Time
	EndedAt   *time.Time
}

// CreateMatch records the start of a match in the named scene.
func CreateMatch(db *gorm.DB, scene string) (*MatchRecord, error) {
	match := &MatchRecord{
		Scene:     scene,
		StartedAt: time.Now(),
	}
	if err := db.Create(match).Error; err != nil {
		return nil, err
	}
	return match, nil
}

// FinishMatch stamps the end time on the match with the specified id.
func FinishMatch(db *gorm.DB, id uint64) error {
	now := time.Now()
	return db.Model(&MatchRecord{}).Where("id = ?", id).Update("ended_at", &now).Error
}

// FindMatch returns the match with the specified id, or nil if there is no match.
func FindMatch(db *gorm.DB, id uint64) (*MatchRecord, error) {
	var match MatchRecord
	err := db.First(&match, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &match, nil
}
