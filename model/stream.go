package model

import "time"

// StreamRecord 记录一次完整播放（player_threshold_reached 上报成功后写入）
type StreamRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID   string    `gorm:"size:64;index" json:"deviceId"`
	TrackURI   string    `gorm:"size:128;index" json:"trackUri"`
	ContextURI string    `gorm:"size:256" json:"contextUri"`
	DurationMs int64     `json:"durationMs"`
	PositionMs int64     `json:"positionMs"`
	PlayedAt   time.Time `gorm:"autoCreateTime" json:"playedAt"`
}

// TableName 指定表名
func (StreamRecord) TableName() string {
	return "stream_records"
}
