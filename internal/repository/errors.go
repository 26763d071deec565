package repository

import (
	"errors"
	"fmt"

	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// isUniqueViolation はerrが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// wrapStoreError はDBエラーをドメインのエラー分類でラップする。
// 一意制約違反はmodel.ErrDuplicate、それ以外はmodel.ErrStoreUnavailableとして扱う。
func wrapStoreError(msg string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %w", msg, model.ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, model.ErrStoreUnavailable, err)
}
