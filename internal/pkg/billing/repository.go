package billing

import (
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. All writes
// are single-row upserts or inserts; row-level uniqueness is the only
// coordination across concurrent deliveries.
type Repository interface {
	UpsertSubscriptionRecord(rec *models.SubscriptionRecord) error
	ListSubscriptionRecordsByUser(userID uint) ([]models.SubscriptionRecord, error)
	GetSubscriptionRecord(userID uint, source string) (*models.SubscriptionRecord, error)
	FindSubscriptionRecordByExternalID(source, externalID string) (*models.SubscriptionRecord, error)

	UpsertEntitlement(e *models.Entitlement) error
	GetEntitlementByUser(userID uint) (*models.Entitlement, error)

	CreateLedgerEntryIfNotExists(entry *models.LedgerEntry) (bool, error)
	SumLedgerNetCents(from, to time.Time) (int64, error)
	SumLedgerNetCentsByUser(userID uint) (int64, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertSubscriptionRecord(rec *models.SubscriptionRecord) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "source"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_id",
			"plan",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"paused_at",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(rec).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ? AND source = ?", rec.UserID, rec.Source).
		First(rec).Error
}

func (r *gormRepository) ListSubscriptionRecordsByUser(userID uint) ([]models.SubscriptionRecord, error) {
	var recs []models.SubscriptionRecord
	err := r.db.Where("user_id = ?", userID).Find(&recs).Error
	return recs, err
}

func (r *gormRepository) GetSubscriptionRecord(userID uint, source string) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := r.db.Where("user_id = ? AND source = ?", userID, source).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) FindSubscriptionRecordByExternalID(source, externalID string) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := r.db.Where("source = ? AND external_id = ?", source, externalID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) UpsertEntitlement(e *models.Entitlement) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(e).Error; err != nil {
		return err
	}

	return r.db.Where("user_id = ?", e.UserID).First(e).Error
}

func (r *gormRepository) GetEntitlementByUser(userID uint) (*models.Entitlement, error) {
	var e models.Entitlement
	err := r.db.Where("user_id = ?", userID).First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) CreateLedgerEntryIfNotExists(entry *models.LedgerEntry) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "external_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SumLedgerNetCents(from, to time.Time) (int64, error) {
	var total int64
	err := r.db.Model(&models.LedgerEntry{}).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Select("COALESCE(SUM(net_cents), 0)").
		Scan(&total).Error
	return total, err
}

func (r *gormRepository) SumLedgerNetCentsByUser(userID uint) (int64, error) {
	var total int64
	err := r.db.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(net_cents), 0)").
		Scan(&total).Error
	return total, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("source = ? AND provider_event_id = ?", event.Source, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
