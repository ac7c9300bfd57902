package registry

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ModelRecord{})
}

func (r *Repository) Create(ctx context.Context, rec *ModelRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repository) Get(ctx context.Context, id uint64) (*ModelRecord, error) {
	var rec ModelRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

// UpdateTraining writes the classifier snapshot and counter in one statement.
// numTrained is the caller's computed value, not an in-database increment.
func (r *Repository) UpdateTraining(ctx context.Context, id uint64, classifier []byte, numTrained int64) error {
	result := r.db.WithContext(ctx).
		Model(&ModelRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"classifier":  classifier,
			"num_trained": numTrained,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByType returns rows of one model type by ascending num_trained, ties
// broken by id.
func (r *Repository) ListByType(ctx context.Context, modelName string) ([]ModelSummary, error) {
	var rows []ModelSummary
	err := r.db.WithContext(ctx).
		Model(&ModelRecord{}).
		Select("id, model_name, num_trained").
		Where("model_name = ?", modelName).
		Order("num_trained ASC, id ASC").
		Scan(&rows).Error
	return rows, err
}

// TrainingCounts returns every row's id and num_trained ordered for grouping.
func (r *Repository) TrainingCounts(ctx context.Context) ([]ModelSummary, error) {
	var rows []ModelSummary
	err := r.db.WithContext(ctx).
		Model(&ModelRecord{}).
		Select("id, model_name, num_trained").
		Order("num_trained ASC, id ASC").
		Scan(&rows).Error
	return rows, err
}
