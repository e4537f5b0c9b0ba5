package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
)

// StockLocation is a physical place stock can sit. Locations are created
// administratively and rarely change afterwards.
type StockLocation struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code      string             `gorm:"column:code;not null;uniqueIndex"`
	Name      string             `gorm:"column:name;not null"`
	Type      enums.LocationType `gorm:"column:type;type:text;not null;default:'dispensary'"`
	Active    bool               `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *StockLocation) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
