package database

import (
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/lib/pq"
)

// Constraint names referenced by MapPQError. They match the migrations.
const (
	ConstraintBatchNumber    = "batches_seller_number_key"
	ConstraintLedgerLocation = "stock_ledger_batch_location_key"
	ConstraintLocationRef    = "storage_locations_seller_ref_key"
	ConstraintAuditOneActive = "inventory_audits_one_active_per_shop"
	ConstraintAuditDocument  = "inventory_audits_document_number_key"
	ConstraintAuditItem      = "inventory_audit_items_product_key"
	ConstraintLedgerQuantity = "stock_ledger_quantity_check"
	ConstraintLedgerReserved = "stock_ledger_reserved_check"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation
	case "23505":
		return mapUniqueConstraint(pqErr)

	// Foreign key violation
	case "23503":
		return errors.NotFound("referenced record").WithDetail("constraint", pqErr.Constraint)

	// Not null violation
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// MapError maps err to an AppError when it is a known constraint violation,
// otherwise wraps it with op for context.
func MapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNoRows reports whether err is sql.ErrNoRows
func IsNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	switch pqErr.Constraint {
	case ConstraintLedgerQuantity:
		return errors.Validation(map[string]string{"quantity": "must not be negative"})
	case ConstraintLedgerReserved:
		return errors.Validation(map[string]string{"reserved_quantity": "must be between 0 and quantity"})
	default:
		return errors.Validation(map[string]string{"constraint": pqErr.Constraint})
	}
}

func mapUniqueConstraint(pqErr *pq.Error) *errors.AppError {
	switch constraint := pqErr.Constraint; constraint {
	case ConstraintAuditOneActive:
		return errors.Invariant("an active inventory audit already exists for this shop", nil)
	case ConstraintBatchNumber:
		return errors.Validation(map[string]string{"batch_number": "already exists for this seller"})
	case ConstraintLedgerLocation:
		return errors.Validation(map[string]string{"location": "batch already has stock at this location"})
	case ConstraintLocationRef:
		return errors.Validation(map[string]string{"location_ref": "storage location already exists"})
	case ConstraintAuditDocument:
		return errors.Validation(map[string]string{"document_number": "already exists"})
	case ConstraintAuditItem:
		return errors.Validation(map[string]string{"product_id": "already on the audit"})
	default:
		return errors.Validation(map[string]string{"constraint": constraint})
	}
}
