package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/imgsentry/imgsentry/internal/common"
	"github.com/imgsentry/imgsentry/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	job        interfaces.JobStorage
	image      interfaces.ImageStorage
	checkpoint interfaces.CheckpointStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		job:        NewJobStorage(db, logger),
		image:      NewImageStorage(db, logger),
		checkpoint: NewCheckpointStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the scan job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ImageStorage returns the discovered-image storage interface
func (m *Manager) ImageStorage() interfaces.ImageStorage {
	return m.image
}

// CheckpointStorage returns the checkpoint storage interface
func (m *Manager) CheckpointStorage() interfaces.CheckpointStorage {
	return m.checkpoint
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
