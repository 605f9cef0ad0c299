package model

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseStatus enumerates payment states of a purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending PurchaseStatus = "pending"
	PurchaseStatusPaid    PurchaseStatus = "paid"
)

// Purchase grants a student the right to attempt a test.
type Purchase struct {
	ID        uuid.UUID      `json:"id"`
	StudentID int            `json:"student_id"`
	TestID    uuid.UUID      `json:"test_id"`
	Status    PurchaseStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}
