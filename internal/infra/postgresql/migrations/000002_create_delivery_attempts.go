package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dispatch-core/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_delivery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_notification_id ON delivery_attempts (notification_id, created_at)`,
				// The audit log is append-only.
				`CREATE OR REPLACE FUNCTION delivery_attempts_immutable() RETURNS trigger AS $$
				BEGIN
					RAISE EXCEPTION 'delivery_attempts is append-only';
				END;
				$$ LANGUAGE plpgsql`,
				`DROP TRIGGER IF EXISTS trg_delivery_attempts_immutable ON delivery_attempts`,
				`CREATE TRIGGER trg_delivery_attempts_immutable BEFORE UPDATE ON delivery_attempts
				FOR EACH ROW EXECUTE FUNCTION delivery_attempts_immutable()`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`DROP FUNCTION IF EXISTS delivery_attempts_immutable()`).Error
		},
	}
}
