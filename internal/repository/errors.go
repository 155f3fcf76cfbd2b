package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
)

var ErrDuplicate = errors.New("duplicate key")

const (
	mysqlDuplicateEntry = 1062
	sqliteConstraint    = 19

	subjectUser        = "user"
	subjectPayment     = "payment"
	subjectCreative    = "creative"
	subjectTransaction = "transaction"

	codeBegin     = "begin"
	codeCommit    = "commit"
	codeCount     = "count"
	codeInsert    = "insert"
	codeList      = "list"
	codeLookup    = "lookup"
	codeUpdate    = "update"
	codeDuplicate = "duplicate"
)

// OperationError wraps a store failure with a stable subject and code so
// logs and metrics can group failures without parsing driver messages.
type OperationError struct {
	subject string
	code    string
	err     error
}

func (e OperationError) Error() string {
	return fmt.Sprintf("store.%s.%s: %v", e.subject, e.code, e.err)
}

func (e OperationError) Unwrap() error { return e.err }

func (e OperationError) Subject() string { return e.subject }

func (e OperationError) Code() string { return e.code }

func wrap(subject, code string, err error) error {
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		return OperationError{subject: subject, code: codeDuplicate, err: fmt.Errorf("%w: %v", ErrDuplicate, err)}
	}
	return OperationError{subject: subject, code: code, err: err}
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqliteConstraint
	}
	return false
}
