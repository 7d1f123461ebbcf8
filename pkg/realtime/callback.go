package realtime

import (
	"context"

	"PolyChat/models"

	"gorm.io/gorm"
)

const callbackName = "realtime:publish_message"

// Attach publishes every successfully committed message insert made through
// db. Inserts made with raw SQL are not seen.
func Attach(db *gorm.DB, pub Publisher) error {
	return db.Callback().Create().
		After("gorm:commit_or_rollback_transaction").
		Register(callbackName, func(tx *gorm.DB) {
			if tx.Error != nil || tx.RowsAffected == 0 {
				return
			}
			ctx := tx.Statement.Context
			if ctx == nil {
				ctx = context.Background()
			}
			switch v := tx.Statement.Dest.(type) {
			case *models.Message:
				pub.Publish(ctx, *v)
			case []models.Message:
				for _, m := range v {
					pub.Publish(ctx, m)
				}
			case *[]models.Message:
				for _, m := range *v {
					pub.Publish(ctx, m)
				}
			}
		})
}
