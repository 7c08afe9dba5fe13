package tax

import "github.com/dukerupert/kasse/internal/domain"

var (
	ErrNegativeAmount = &domain.Error{Code: domain.EINVALID, Message: "Taxable amount and shipping must not be negative"}
	ErrInvalidRate    = &domain.Error{Code: domain.EINVALID, Message: "Tax rate must be between 0 and 1"}
	ErrDuplicateRule  = &domain.Error{Code: domain.EINVALID, Message: "Tax rule id must be unique"}
)
