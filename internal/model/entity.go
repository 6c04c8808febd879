package model

import "time"

// CaptureSession is the session metadata row (GORM).
type CaptureSession struct {
	ID         string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name       string     `gorm:"size:128"`
	Status     string     `gorm:"size:20;not null;default:active"` // active, completed, error
	Sensors    string     `gorm:"type:text"`                       // comma-separated sensor filter
	Tags       string     `gorm:"type:text"`
	StorageDir string     `gorm:"size:512;not null"`
	StartedAt  time.Time  `gorm:"column:started_at;not null"`
	EndedAt    *time.Time `gorm:"column:ended_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime"`

	Recordings []RecordingRow `gorm:"foreignKey:SessionID"`
}

func (CaptureSession) TableName() string { return "capture_sessions" }

// Camera is a registered IP camera row (GORM).
type Camera struct {
	ID         string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name       string    `gorm:"size:128;not null;uniqueIndex"`
	StreamURL  string    `gorm:"size:512;not null"`
	FilePrefix string    `gorm:"size:64;not null"` // prefix of recording file names
	Enabled    bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (Camera) TableName() string { return "cameras" }

// Sensor is a registered bus sensor row (GORM). Identity is the logical
// device name matched against topic segments, not the raw topic.
type Sensor struct {
	ID        string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string    `gorm:"size:128;not null;uniqueIndex"`
	Topic     string    `gorm:"size:256"` // raw topic last seen for this sensor, informational
	Kind      string    `gorm:"size:32"`  // temperature, humidity, motion, contact, ...
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Sensor) TableName() string { return "sensors" }

// RecordingRow is the persisted view of one camera recording (GORM).
type RecordingRow struct {
	ID         string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID  *string    `gorm:"type:uuid;index"` // null for standalone recordings
	CameraID   string     `gorm:"type:uuid;not null;index"`
	Status     string     `gorm:"size:20;not null;default:starting"` // starting, recording, completed, error
	OutputFile string     `gorm:"size:512"`
	StartedAt  time.Time  `gorm:"column:started_at;not null"`
	EndedAt    *time.Time `gorm:"column:ended_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime"`
}

func (RecordingRow) TableName() string { return "recordings" }
