package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hypertrack/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the persistence collaborator: tracked wallets, the follower's
// open positions and the append-only trade history.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at the given path.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = filepath.Join("data", "hypertrack.db")
	}

	// Ensure directory exists
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(
		&domain.TrackedWallet{},
		&domain.FollowerPosition{},
		&domain.TradeRecord{},
		&domain.AppConfig{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// Wallet Operations
// ======================================================================================

// AddWallet registers a new tracked wallet. Fails if the address exists.
func (s *Storage) AddWallet(w *domain.TrackedWallet) error {
	w.Address = strings.ToLower(w.Address)
	var count int64
	if err := s.db.Model(&domain.TrackedWallet{}).Where("address = ?", w.Address).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrWalletExists
	}
	return s.db.Create(w).Error
}

// UpsertWallet creates or updates wallet configuration.
func (s *Storage) UpsertWallet(w *domain.TrackedWallet) error {
	w.Address = strings.ToLower(w.Address)
	return s.db.Save(w).Error
}

// GetWallet retrieves a tracked wallet by address.
func (s *Storage) GetWallet(address string) (*domain.TrackedWallet, error) {
	var w domain.TrackedWallet
	err := s.db.First(&w, "address = ?", strings.ToLower(address)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// AllWallets retrieves tracked wallets, optionally only enabled ones.
func (s *Storage) AllWallets(enabledOnly bool) ([]domain.TrackedWallet, error) {
	var wallets []domain.TrackedWallet
	q := s.db.Order("created_at")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	err := q.Find(&wallets).Error
	return wallets, err
}

// SetWalletEnabled toggles whether a wallet's events are followed.
func (s *Storage) SetWalletEnabled(address string, enabled bool) error {
	res := s.db.Model(&domain.TrackedWallet{}).
		Where("address = ?", strings.ToLower(address)).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteWallet removes a wallet from tracking.
func (s *Storage) DeleteWallet(address string) error {
	return s.db.Where("address = ?", strings.ToLower(address)).Delete(&domain.TrackedWallet{}).Error
}

// ======================================================================================
// Position Operations
// ======================================================================================

// UpsertPosition creates or updates the follower position for a symbol.
func (s *Storage) UpsertPosition(pos *domain.FollowerPosition) error {
	pos.Symbol = strings.ToUpper(pos.Symbol)
	pos.SourceWallet = strings.ToLower(pos.SourceWallet)
	return s.db.Save(pos).Error
}

// GetPosition retrieves the follower position for a symbol.
func (s *Storage) GetPosition(symbol string) (*domain.FollowerPosition, error) {
	var pos domain.FollowerPosition
	err := s.db.First(&pos, "symbol = ?", strings.ToUpper(symbol)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// AllPositions retrieves all open follower positions.
func (s *Storage) AllPositions() ([]domain.FollowerPosition, error) {
	var positions []domain.FollowerPosition
	err := s.db.Order("opened_at").Find(&positions).Error
	return positions, err
}

// DeletePosition removes the follower position for a symbol.
func (s *Storage) DeletePosition(symbol string) error {
	return s.db.Where("symbol = ?", strings.ToUpper(symbol)).Delete(&domain.FollowerPosition{}).Error
}

// ======================================================================================
// Trade History
// ======================================================================================

// AppendTrade appends one record to the trade history sink.
func (s *Storage) AppendTrade(rec *domain.TradeRecord) error {
	return s.db.Create(rec).Error
}

// RecentTrades returns the latest trade records, newest first.
func (s *Storage) RecentTrades(limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var trades []domain.TradeRecord
	err := s.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration value.
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfigMap loads all user configurations as a map.
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
