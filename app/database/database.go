package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"userdesk/app/config"
	"userdesk/app/logger"
)

func Connect(c *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(c.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	logger.Debug("GORM connected to database")

	return db, nil
}

// Migrate brings the schema up to date for both stores and the intent
// table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&UserInfo{},
		&MFAFactor{},
		&MFAChallenge{},
		&LoginTicket{},
		&AuthRefreshToken{},
		&AccountCode{},
		&PendingAction{},
	)
}
