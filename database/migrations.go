package database

import (
	"fmt"
	"log"

	"fabot/models"
)

func Migrate() {
	err := DB.AutoMigrate(
		&models.Chat{},
		&models.Message{},
		&models.AppState{},
	)
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	fmt.Println("Migrations completed")
}
