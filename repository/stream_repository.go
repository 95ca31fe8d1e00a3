package repository

import (
	"fmt"

	"SpotWire/db"
	"SpotWire/model"

	"gorm.io/gorm"
)

// StreamRepository defines the interface for stream-history operations.
type StreamRepository interface {
	CreateStream(record *model.StreamRecord) error
	ListRecent(limit int) ([]*model.StreamRecord, error)
	CountByTrack(trackURI string) (int64, error)
}

// gormStreamRepository implements StreamRepository with GORM.
type gormStreamRepository struct {
	db *gorm.DB
}

// NewStreamRepository creates a repository on the global GORM connection.
func NewStreamRepository() StreamRepository {
	return &gormStreamRepository{db: db.GormDB}
}

// CreateStream persists one completed stream.
func (r *gormStreamRepository) CreateStream(record *model.StreamRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to create stream record: %w", err)
	}
	return nil
}

// ListRecent returns the most recent streams, newest first.
func (r *gormStreamRepository) ListRecent(limit int) ([]*model.StreamRecord, error) {
	var records []*model.StreamRecord
	err := r.db.Order("played_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stream records: %w", err)
	}
	return records, nil
}

// CountByTrack counts completed streams of one track.
func (r *gormStreamRepository) CountByTrack(trackURI string) (int64, error) {
	var count int64
	err := r.db.Model(&model.StreamRecord{}).Where("track_uri = ?", trackURI).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count streams for %s: %w", trackURI, err)
	}
	return count, nil
}
