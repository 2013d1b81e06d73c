package migrations

import (
	"fmt"
	"strings"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/repository"
	"gorm.io/gorm"
)

func createBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchModel{}); err != nil {
				return err
			}
			for _, sql := range batchStatements() {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Exec(`ALTER TABLE notifications DROP CONSTRAINT IF EXISTS fk_notifications_batch`).Error; err != nil {
				return err
			}
			return tx.Migrator().DropTable(&repository.BatchModel{})
		},
	}
}

// batchStatements bounds the failed count by the batch size, pins status to
// the known values and ties notifications to their batch.
func batchStatements() []string {
	statuses := []domain.BatchStatus{
		domain.BatchStatusProcessing,
		domain.BatchStatusCompleted,
		domain.BatchStatusPartialFailure,
	}
	quoted := make([]string, 0, len(statuses))
	for _, s := range statuses {
		quoted = append(quoted, "'"+s.String()+"'")
	}

	return []string{
		`ALTER TABLE batches DROP CONSTRAINT IF EXISTS chk_batches_failed_count`,
		`ALTER TABLE batches ADD CONSTRAINT chk_batches_failed_count CHECK (failed_count >= 0 AND failed_count <= total_count)`,
		`ALTER TABLE batches DROP CONSTRAINT IF EXISTS chk_batches_status`,
		fmt.Sprintf(`ALTER TABLE batches ADD CONSTRAINT chk_batches_status CHECK (status IN (%s))`, strings.Join(quoted, ", ")),
		`CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches (created_at)`,
		`DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'fk_notifications_batch') THEN
				ALTER TABLE notifications ADD CONSTRAINT fk_notifications_batch
					FOREIGN KEY (batch_id) REFERENCES batches (id) ON DELETE SET NULL;
			END IF;
		END $$`,
	}
}
