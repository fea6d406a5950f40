package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/imgsentry/imgsentry/internal/interfaces"
	"github.com/imgsentry/imgsentry/internal/models"
)

// ImageStorage implements the ImageStorage interface for Badger
type ImageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewImageStorage creates a new ImageStorage instance
func NewImageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ImageStorage {
	return &ImageStorage{
		db:     db,
		logger: logger,
	}
}

// imageKey builds the composite storage key. Images are keyed by scan and
// URL so a re-observation on another page updates the existing record.
func imageKey(scanID, imageURL string) string {
	return fmt.Sprintf("%s|%s", scanID, imageURL)
}

func (s *ImageStorage) SaveImage(ctx context.Context, img *models.DiscoveredImage) error {
	if img.ScanID == "" || img.URL == "" {
		return fmt.Errorf("image scan ID and URL are required")
	}
	if err := s.db.Store().Upsert(imageKey(img.ScanID, img.URL), img); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

func (s *ImageStorage) GetImageByURL(ctx context.Context, scanID, imageURL string) (*models.DiscoveredImage, error) {
	var img models.DiscoveredImage
	if err := s.db.Store().Get(imageKey(scanID, imageURL), &img); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &img, nil
}

func (s *ImageStorage) GetImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error) {
	var images []models.DiscoveredImage
	query := badgerhold.Where("ScanID").Eq(scanID).SortBy("FirstSeenAt")
	if err := s.db.Store().Find(&images, query); err != nil {
		return nil, fmt.Errorf("failed to get images for scan: %w", err)
	}

	result := make([]*models.DiscoveredImage, len(images))
	for i := range images {
		result[i] = &images[i]
	}
	return result, nil
}

func (s *ImageStorage) CountImagesByScan(ctx context.Context, scanID string) (int, error) {
	count, err := s.db.Store().Count(&models.DiscoveredImage{}, badgerhold.Where("ScanID").Eq(scanID))
	if err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return int(count), nil
}
