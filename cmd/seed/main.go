// Package main seeds the platform operator account and its fee wallet. Run
// once per environment; reruns are no-ops.
package main

import (
	"log"

	"escra/internal/config"
	"escra/internal/models"
	"escra/internal/repositories"
)

func main() {
	config.LoadEnv()

	platformEmail := config.GetEnv("PLATFORM_EMAIL", "platform@escra.local")

	if err := repositories.InitDB(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	defer func() {
		if sqlDB, err := repositories.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Printf("failed to close database connection: %v", err)
			}
		}
		if repositories.CacheService != nil {
			if err := repositories.CacheService.Close(); err != nil {
				log.Printf("failed to close redis connection: %v", err)
			}
		}
	}()

	var platform models.User
	result := repositories.DB.Where("email = ?", platformEmail).First(&platform)
	if result.Error == nil {
		log.Println("platform account already exists")
	} else {
		platform = models.User{
			Email: platformEmail,
			Role:  models.RoleAdmin,
		}
		if err := repositories.DB.Create(&platform).Error; err != nil {
			log.Fatal("Failed to create platform account:", err)
		}
		log.Printf("platform account created with id %d", platform.ID)
		log.Printf("set PLATFORM_USER_ID=%d in the environment", platform.ID)
	}

	var wallet models.Wallet
	result = repositories.DB.
		Where("owner_id = ? AND type = ?", platform.ID, models.WalletTypePlatform).
		First(&wallet)
	if result.Error == nil {
		log.Println("platform fee wallet already exists")
		return
	}

	wallet = models.Wallet{
		OwnerID:  platform.ID,
		Type:     models.WalletTypePlatform,
		Currency: config.GetEnv("DEFAULT_CURRENCY", "USD"),
		Status:   models.WalletStatusActive,
	}
	if err := repositories.DB.Create(&wallet).Error; err != nil {
		log.Fatal("Failed to create platform wallet:", err)
	}
	log.Printf("platform fee wallet created with id %d", wallet.ID)
}
