package database

import (
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fabot/config"
)

var DB *gorm.DB

func Connect(cfg *config.Config) {
	var (
		db  *gorm.DB
		err error
	)

	opts := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if cfg.UsePostgres() {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), opts)
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.DBPath), opts)
	}
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	DB = db
	fmt.Println("Database connected")
}
