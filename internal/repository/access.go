package repository

import (
	"context"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"gorm.io/gorm"
)

// AccessLogs: ślad eksportów i synchronizacji, używany też do limitu na godzinę.
type AccessLogs struct {
	db *gorm.DB
}

func NewAccessLogs(gdb *gorm.DB) *AccessLogs {
	return &AccessLogs{db: gdb}
}

func (r *AccessLogs) Record(ctx context.Context, clientID uint, action string, count int, format, ip string) error {
	return r.db.WithContext(ctx).Create(&db.AccessLog{
		ClientID:     clientID,
		Action:       action,
		ProductCount: count,
		Format:       format,
		IP:           ip,
	}).Error
}

// CountSince liczy wpisy klienta o akcji z podanym prefiksem od chwili since.
func (r *AccessLogs) CountSince(ctx context.Context, clientID uint, actionPrefix string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&db.AccessLog{}).
		Where("client_id = ? AND action LIKE ? AND created_at >= ?", clientID, actionPrefix+"%", since).
		Count(&n).Error
	return n, err
}
