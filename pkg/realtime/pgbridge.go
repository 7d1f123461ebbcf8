package realtime

import (
	"context"
	"errors"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Channel is the Postgres NOTIFY channel carrying inserted message ids.
const Channel = "polychat_messages"

// PGBridge spreads inserts across service instances sharing one Postgres
// database. Publish sends a NOTIFY with the message id; Run LISTENs, reloads
// each row and hands it to the local hub, so every instance (this one
// included) delivers through the same path.
type PGBridge struct {
	pool  *pgxpool.Pool
	db    *gorm.DB
	local Publisher
	log   *zap.Logger
}

func NewPGBridge(pool *pgxpool.Pool, db *gorm.DB, local Publisher) *PGBridge {
	return &PGBridge{pool: pool, db: db, local: local, log: logger.Named("pgbridge")}
}

func (b *PGBridge) Publish(ctx context.Context, msg models.Message) {
	// the insert is committed; a cancelled request must not lose the notify
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, msg.ID); err != nil {
		b.log.Warn("notify failed, delivering locally", zap.String("message_id", msg.ID), zap.Error(err))
		b.local.Publish(ctx, msg)
	}
}

// Run listens until ctx is done, reconnecting after connection errors.
func (b *PGBridge) Run(ctx context.Context) error {
	for {
		err := b.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warn("listener stopped, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *PGBridge) listen(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	b.log.Info("listening", zap.String("channel", Channel))
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var msg models.Message
		if err := b.db.WithContext(ctx).First(&msg, "id = ?", n.Payload).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				b.log.Warn("reload notified message", zap.String("message_id", n.Payload), zap.Error(err))
			}
			continue
		}
		b.local.Publish(ctx, msg)
	}
}
