package registry

import "gorm.io/datatypes"

// ModelRecord is the persisted classifier configuration and state.
type ModelRecord struct {
	ID         uint64            `gorm:"primaryKey;autoIncrement;column:id"`
	ModelName  string            `gorm:"column:model_name;size:50;not null;index"`
	Params     datatypes.JSON    `gorm:"column:params;type:text;not null"`
	Dimension  int               `gorm:"column:dimension;not null"`
	NumClasses int               `gorm:"column:num_classes;not null"`
	Classifier []byte            `gorm:"column:classifier;not null"`
	NumTrained int64             `gorm:"column:num_trained;not null;default:0"`
}

func (ModelRecord) TableName() string {
	return "models"
}

// ModelSummary is the projection used by the listing queries.
type ModelSummary struct {
	ID         uint64
	ModelName  string
	NumTrained int64
}
