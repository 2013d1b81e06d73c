package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, All())
	return m.Migrate()
}

// All lists every migration in apply order.
func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createNotificationsTable(),
		createDeliveryAttemptsTable(),
		createBatchesTable(),
		createTemplatesTable(),
		createPreferencesAndUsersTables(),
	}
}
