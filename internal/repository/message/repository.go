package message

import (
	"context"
	"errors"

	"github.com/xpanvictor/relay/internal/domains/stream"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormMessageRepo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

// UpsertByClientID implements stream.MessageStore. The client identifier is
// the idempotency key: a retried create lands on the existing row.
func (g *GormMessageRepo) UpsertByClientID(ctx context.Context, msg stream.AssistantMessage) (*stream.AssistantMessage, error) {
	var existing AssistantMessageEntity
	err := g.db.WithContext(ctx).Where("client_id = ?", msg.ClientID).First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{
			"status": string(msg.Status),
		}
		if msg.Content != "" {
			updates["content"] = msg.Content
		}
		if msg.Reasoning != "" {
			updates["reasoning"] = msg.Reasoning
		}
		if err := g.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, err
		}
		return existing.ToDomain(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	e := &AssistantMessageEntity{}
	e.FromDomain(msg)
	e.ID = 0
	if err := g.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e.ToDomain(), nil
}

// UpdateProgress implements stream.MessageStore. A vanished target row is
// reported as stream.ErrRecordMissing so the persister can recover.
func (g *GormMessageRepo) UpdateProgress(ctx context.Context, msg stream.AssistantMessage) error {
	res := g.db.WithContext(ctx).
		Model(&AssistantMessageEntity{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"content":    msg.Content,
			"reasoning":  msg.Reasoning,
			"status":     string(msg.Status),
			"last_error": msg.LastError,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return stream.ErrRecordMissing
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return stream.ErrRecordMissing
	}
	return nil
}

// PersistFinal implements stream.MessageStore. Message row, usage row and
// the variant trim commit as one transaction.
func (g *GormMessageRepo) PersistFinal(ctx context.Context, rec stream.FinalRecord) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":     string(rec.Status),
			"last_error": rec.LastError,
			"reasoning":  rec.Reasoning,
		}
		// blank content never clobbers partials that already landed
		if rec.Content != "" {
			updates["content"] = rec.Content
		}
		res := tx.Model(&AssistantMessageEntity{}).Where("id = ?", rec.MessageID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return stream.ErrRecordMissing
		}

		if rec.Usage != nil || rec.Metrics != nil {
			u := &MessageUsageEntity{}
			u.FromFinal(rec)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "message_id"}},
				UpdateAll: true,
			}).Create(u).Error; err != nil {
				return err
			}
		}

		if rec.HistoryLimit > 0 {
			if err := trimVariants(tx, rec, rec.HistoryLimit); err != nil {
				return err
			}
		}
		return nil
	})
}

// trimVariants soft-deletes terminal sibling replies in the session beyond
// the configured count, oldest first. The row just finalized always
// survives.
func trimVariants(tx *gorm.DB, rec stream.FinalRecord, limit int) error {
	var ids []uint
	err := tx.Model(&AssistantMessageEntity{}).
		Where("session_id = ? AND id <> ?", rec.SessionID, rec.MessageID).
		Where("status IN ?", []string{"done", "error", "cancelled"}).
		Order("updated_at DESC").
		Offset(limit - 1).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&AssistantMessageEntity{}).Error
}
