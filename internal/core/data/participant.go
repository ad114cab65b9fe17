package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ParticipantRecord is the persisted connection log for one participant session.
type ParticipantRecord struct {
	ID          uint64 `gorm:"primaryKey"`
	PeerID      uint32 `gorm:"not null"`
	DisplayName string
	Team        int
	JoinedAt    time.Time
	LeftAt      *time.Time
}

// RecordJoin creates a connection log entry for a newly connected participant.
func RecordJoin(db *gorm.DB, peerID uint32, displayName string, team int) (*ParticipantRecord, error) {
	record := &ParticipantRecord{
		PeerID:      peerID,
		DisplayName: displayName,
		Team:        team,
		JoinedAt:    time.Now(),
	}
	if err := db.Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// RecordLeave stamps the departure time on the most recent open connection log
// entry for the peer, if one exists.
func RecordLeave(db *gorm.DB, peerID uint32) error {
	var record ParticipantRecord
	err := db.Where("peer_id = ? AND left_at IS NULL", peerID).
		Order("joined_at desc").
		First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	now := time.Now()
	return db.Model(&record).Update("left_at", &now).Error
}

// OpenParticipants returns every connection log entry without a departure time.
func OpenParticipants(db *gorm.DB) ([]ParticipantRecord, error) {
	var records []ParticipantRecord
	if err := db.Where("left_at IS NULL").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
