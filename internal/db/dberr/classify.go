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

package dberr

import "strings"

// Classify wraps a native engine error into a constraint or query error,
// inspecting the message for constraint keywords.
//
// SQLite reports violations as "UNIQUE constraint failed: t.c",
// "FOREIGN KEY constraint failed", "NOT NULL constraint failed: t.c",
// and "CHECK constraint failed: name".
func Classify(sql string, err error) *Error {
	if err == nil {
		panic("dberr.Classify: err is nil")
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "unique constraint"):
		return NewQuery(ErrorCodeConstraintUnique, sql, err)
	case strings.Contains(msg, "foreign key constraint"):
		return NewQuery(ErrorCodeConstraintForeignKey, sql, err)
	case strings.Contains(msg, "not null constraint"):
		return NewQuery(ErrorCodeConstraintNotNull, sql, err)
	case strings.Contains(msg, "check constraint"):
		return NewQuery(ErrorCodeConstraintCheck, sql, err)
	default:
		return NewQuery(ErrorCodeQuery, sql, err)
	}
}
