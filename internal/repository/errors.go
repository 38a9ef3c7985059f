package repository

import (
	"context"
	"database/sql/driver"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	imagestack_errors "github.com/customeros/imagestack/internal/errors"
)

var (
	ErrInvalidInput = errors.New("invalid input parameters")
)

// classifyPostgresError maps gorm/pgx failures onto the error taxonomy.
func classifyPostgresError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return imagestack_errors.NotFound(op, imagestack_errors.ErrRecordNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return imagestack_errors.Transient(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// insufficient resources
		case strings.HasPrefix(pgErr.Code, "53"):
			return imagestack_errors.Capacity(op, err)
		// serialization failure, deadlock, connection exception, operator intervention
		case strings.HasPrefix(pgErr.Code, "40"), strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return imagestack_errors.Transient(op, err)
		}
		return errors.Wrap(err, op)
	}
	if pgconn.Timeout(err) {
		return imagestack_errors.Transient(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return imagestack_errors.Transient(op, err)
	}
	return errors.Wrap(err, op)
}

func validatePropertyID(propertyID string) error {
	if strings.TrimSpace(propertyID) == "" {
		return errors.Wrap(ErrInvalidInput, "property id is empty")
	}
	return nil
}
