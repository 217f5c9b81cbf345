package models

import (
	"time"
)

// Roles carried on claims. Identity management lives outside this service;
// users exist here only as wallet owners and project participants.
const (
	RolePayer    = "payer"
	RolePayee    = "payee"
	RoleMediator = "mediator"
	RoleAdmin    = "admin"
)

// User is the minimal local record for an externally managed identity.
type User struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	Email     string `gorm:"uniqueIndex;not null" json:"email"`
	Role      string `gorm:"not null;default:'payer'" json:"role"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
