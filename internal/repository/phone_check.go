package repository

import (
	"context"
	"fmt"

	"github.com/phonechecker/phonechecker/internal/model"
)

// CreatePhoneCheck inserts an audit row for one validation.
func (r *Repository) CreatePhoneCheck(ctx context.Context, check *model.PhoneCheck) error {
	query := `
		INSERT INTO phone_checks (id, user_id, ip_address, phone_number, country, region_code,
			network_operator, number_type, is_valid, whatsapp_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		check.ID,
		check.UserID,
		check.IPAddress,
		check.PhoneNumber,
		check.Country,
		check.RegionCode,
		check.NetworkOperator,
		check.NumberType,
		check.IsValid,
		check.WhatsAppStatus,
		check.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create phone check: %w", err)
	}
	return nil
}
