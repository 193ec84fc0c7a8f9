package models

import (
	"time"
)

// CertificateData is the structured payload extracted from a grading
// company's certificate lookup for a single slab.
type CertificateData struct {
	CertificateNumber string `json:"certificate_number"`
	Grade             string `json:"grade,omitempty"`
	GradingCompany    string `json:"grading_company"`
	CardName          string `json:"card_name,omitempty"`
	SetName           string `json:"set_name,omitempty"`
	CardNumber        string `json:"card_number,omitempty"`
	Year              *int   `json:"year,omitempty"`
	SetSlug           string `json:"set_slug,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
	GradingDate       string `json:"grading_date,omitempty"`
	PopReport         string `json:"pop_report,omitempty"`
}

// VerificationResult is the caller-facing outcome of a certificate check.
// Data is populated only when Valid is true; callers must not act on Data
// otherwise.
type VerificationResult struct {
	Verified bool             `json:"verified"`
	Valid    bool             `json:"valid"`
	Data     *CertificateData `json:"data,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// CertificateVerification is the persisted cache entry for a verification
// attempt, keyed by (grading_company, certificate_number). Entries older
// than the cache TTL are refreshed, not served.
type CertificateVerification struct {
	ID                uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	GradingCompany    string    `json:"grading_company" gorm:"uniqueIndex:idx_cert_company_number;not null"`
	CertificateNumber string    `json:"certificate_number" gorm:"uniqueIndex:idx_cert_company_number;not null"`
	Verified          bool      `json:"verified"`
	Valid             bool      `json:"valid"`
	Data              string    `json:"data,omitempty" gorm:"type:text"` // JSON-encoded CertificateData
	ErrorMessage      string    `json:"error_message,omitempty"`
	UserID            string    `json:"user_id" gorm:"index"`
	LastCheckedAt     time.Time `json:"last_checked_at" gorm:"index"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// VerifyCertificateRequest is the inbound verification API contract.
type VerifyCertificateRequest struct {
	GradingCompany    string `json:"grading_company" binding:"required"`
	CertificateNumber string `json:"certificate_number" binding:"required"`
	Grade             string `json:"grade"`
}
