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

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTables(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		query    string
		expected []string
	}{
		"Select": {
			query:    "SELECT * FROM users",
			expected: []string{"users"},
		},
		"Join": {
			query:    "SELECT * FROM users JOIN posts ON posts.user_id = users.id",
			expected: []string{"posts", "users"},
		},
		"MultiJoin": {
			query:    "SELECT u.name FROM users u LEFT JOIN posts p ON p.user_id = u.id INNER JOIN tags ON tags.post_id = p.id",
			expected: []string{"posts", "tags", "users"},
		},
		"Insert": {
			query:    "INSERT INTO orders (id, total) VALUES (?, ?)",
			expected: []string{"orders"},
		},
		"Update": {
			query:    "UPDATE accounts SET balance = balance - ? WHERE id = ?",
			expected: []string{"accounts"},
		},
		"DeleteFrom": {
			query:    "DELETE FROM sessions WHERE expires < ?",
			expected: []string{"sessions"},
		},
		"CreateTable": {
			query:    "CREATE TABLE IF NOT EXISTS logs (id INTEGER PRIMARY KEY)",
			expected: []string{"logs"},
		},
		"DropTable": {
			query:    "DROP TABLE old_logs",
			expected: []string{"old_logs"},
		},
		"SchemaPrefix": {
			query:    "SELECT * FROM main.users",
			expected: []string{"users"},
		},
		"QuotedIdentifier": {
			query:    `SELECT * FROM "users" JOIN [posts] ON 1`,
			expected: []string{"posts", "users"},
		},
		"Subquery": {
			query:    "SELECT * FROM (SELECT id FROM users) WHERE id IN (SELECT user_id FROM posts)",
			expected: []string{"posts", "users"},
		},
		"CaseInsensitive": {
			query:    "select * FROM Users join POSTS on 1",
			expected: []string{"posts", "users"},
		},
		"Duplicates": {
			query:    "SELECT * FROM t UNION SELECT * FROM t",
			expected: []string{"t"},
		},
		"NoTables": {
			query:    "SELECT 1 + 1",
			expected: []string{},
		},
		"Pragma": {
			query:    "PRAGMA user_version",
			expected: []string{},
		},
	} {
		name, tc := name, tc

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, ExtractTables(tc.query))
		})
	}
}
