package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("duplicate row")
	// ErrCheckViolation はCHECK制約違反を表す。
	ErrCheckViolation = errors.New("check constraint violation")
	// ErrNotFound は参照先の行が存在しないことを表す。
	ErrNotFound = errors.New("referenced row not found")
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqInvalidTextRep      = "22P02"
)

// translatePQError はPostgreSQLの制約違反を番兵エラーへ変換する。
// 該当しない場合は元のエラーをそのまま返す。
func translatePQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return ErrDuplicate
	case pqCheckViolation:
		return ErrCheckViolation
	case pqForeignKeyViolation, pqInvalidTextRep:
		return ErrNotFound
	}
	return err
}

// isInvalidUUID はUUID形式でない値で検索した場合のエラーかどうかを返す。
// その場合は「見つからない」として扱う。
func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqInvalidTextRep
}

// likePattern はILIKE用の部分一致パターンを生成する。
// ワイルドカード文字はエスケープする。
func likePattern(s string) string {
	escaped := make([]rune, 0, len(s)+2)
	escaped = append(escaped, '%')
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, r)
	}
	escaped = append(escaped, '%')
	return string(escaped)
}
