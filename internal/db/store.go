package db

import (
	"gorm.io/gorm"

	"github.com/pysugar/kiro-nexus/internal/db/models"
)

// AccountStore is the registry's durable collaborator. The registry only
// needs load-all and replace-one; everything else (import, delete, export)
// is owned by external tooling.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// LoadAccounts returns every stored account ordered by id.
func (s *AccountStore) LoadAccounts() ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// ReplaceAccount writes one account record through to storage.
func (s *AccountStore) ReplaceAccount(acc models.Account) error {
	return s.db.Save(&acc).Error
}
