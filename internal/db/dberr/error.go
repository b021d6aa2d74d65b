// Copyright 2025 Litebeam Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dberr provides the typed error taxonomy returned by all engine operations.
//
// Native driver errors never cross the engine boundary; they are always wrapped
// into one of the codes below first.
package dberr

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// ErrorCode represents an engine error code.
type ErrorCode int

// Error codes.
const (
	_ ErrorCode = iota

	// ErrorCodeClosed is returned for operations issued after shutdown.
	ErrorCodeClosed

	// ErrorCodeQuery is returned for malformed SQL and generic engine failures.
	ErrorCodeQuery

	// Constraint violations, detected by message classification.
	ErrorCodeConstraintUnique
	ErrorCodeConstraintForeignKey
	ErrorCodeConstraintNotNull
	ErrorCodeConstraintCheck

	// ErrorCodeTypeMapping is returned for value conversion failures.
	ErrorCodeTypeMapping

	// ErrorCodeTransaction is returned when a transaction or batch fails and is rolled back.
	ErrorCodeTransaction

	// ErrorCodeMigration is returned when a schema migration fails and the backup was restored.
	ErrorCodeMigration

	// ErrorCodeRestore is returned when the restore-from-backup step of a failed
	// migration itself fails. It is a more severe condition than ErrorCodeMigration:
	// the main database file may be left in the partially migrated state.
	ErrorCodeRestore

	// ErrorCodeEncryption is returned when encryption is requested but not supported.
	ErrorCodeEncryption
)

// String implements fmt.Stringer.
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeClosed:
		return "Closed"
	case ErrorCodeQuery:
		return "Query"
	case ErrorCodeConstraintUnique:
		return "ConstraintUnique"
	case ErrorCodeConstraintForeignKey:
		return "ConstraintForeignKey"
	case ErrorCodeConstraintNotNull:
		return "ConstraintNotNull"
	case ErrorCodeConstraintCheck:
		return "ConstraintCheck"
	case ErrorCodeTypeMapping:
		return "TypeMapping"
	case ErrorCodeTransaction:
		return "Transaction"
	case ErrorCodeMigration:
		return "Migration"
	case ErrorCodeRestore:
		return "Restore"
	case ErrorCodeEncryption:
		return "Encryption"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(code))
	}
}

// Error represents an engine error returned by all engine operations.
//
//nolint:vet // for readability
type Error struct {
	code ErrorCode
	err  error

	// offending SQL text, set for query and constraint errors
	sql string

	// version pair, set for migration and restore errors
	fromVersion int
	toVersion   int
}

// New creates a new engine error.
//
// Code must not be 0. Err may be nil.
func New(code ErrorCode, err error) *Error {
	if code == 0 {
		panic("dberr.New: code must not be 0")
	}

	return &Error{
		code: code,
		err:  err,
	}
}

// NewQuery creates a new error with the given code carrying the offending SQL text.
func NewQuery(code ErrorCode, sql string, err error) *Error {
	e := New(code, err)
	e.sql = sql

	return e
}

// NewMigration creates a new migration error carrying both version numbers.
func NewMigration(from, to int, err error) *Error {
	e := New(ErrorCodeMigration, err)
	e.fromVersion = from
	e.toVersion = to

	return e
}

// NewRestore creates a new restore error for a failed restore-from-backup step.
//
// MigrationErr is the original migration failure; restoreErr is the restore failure.
func NewRestore(from, to int, migrationErr, restoreErr error) *Error {
	e := New(ErrorCodeRestore, fmt.Errorf("restore failed: %w (migration failure: %v)", restoreErr, migrationErr))
	e.fromVersion = from
	e.toVersion = to

	return e
}

// Code returns the error code.
func (err *Error) Code() ErrorCode {
	return err.code
}

// SQL returns the offending SQL text, or an empty string.
func (err *Error) SQL() string {
	return err.sql
}

// FromVersion returns the stored schema version for migration and restore errors.
func (err *Error) FromVersion() int {
	return err.fromVersion
}

// ToVersion returns the target schema version for migration and restore errors.
func (err *Error) ToVersion() int {
	return err.toVersion
}

// Error implements error interface.
func (err *Error) Error() string {
	switch {
	case err.sql != "":
		return fmt.Sprintf("%s: %v (%s)", err.code, err.err, err.sql)
	case err.code == ErrorCodeMigration || err.code == ErrorCodeRestore:
		return fmt.Sprintf("%s (%d -> %d): %v", err.code, err.fromVersion, err.toVersion, err.err)
	default:
		return fmt.Sprintf("%s: %v", err.code, err.err)
	}
}

// Unwrap returns the wrapped native error for diagnostics.
func (err *Error) Unwrap() error {
	return err.err
}

// ErrorCodeIs returns true if err is *Error with one of the given error codes.
//
// At least one error code must be given.
func ErrorCodeIs(err error, code ErrorCode, codes ...ErrorCode) bool {
	e, ok := err.(*Error) //nolint:errorlint // do not inspect error chain
	if !ok {
		return false
	}

	return e.code == code || slices.Contains(codes, e.code)
}

// IsConstraint returns true if err is a constraint violation of any kind.
func IsConstraint(err error) bool {
	return ErrorCodeIs(err,
		ErrorCodeConstraintUnique,
		ErrorCodeConstraintForeignKey,
		ErrorCodeConstraintNotNull,
		ErrorCodeConstraintCheck,
	)
}
