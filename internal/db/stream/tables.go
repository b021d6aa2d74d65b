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
	"strings"

	"golang.org/x/exp/slices"
)

// keywords are SQL keywords that could be mistaken for table names
// by the lightweight extraction below.
var keywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "join": {}, "inner": {}, "outer": {},
	"left": {}, "right": {}, "cross": {}, "natural": {}, "on": {}, "using": {},
	"as": {}, "set": {}, "values": {}, "into": {}, "update": {}, "insert": {},
	"delete": {}, "replace": {}, "create": {}, "drop": {}, "alter": {}, "table": {},
	"index": {}, "view": {}, "trigger": {}, "if": {}, "not": {}, "exists": {},
	"and": {}, "or": {}, "order": {}, "group": {}, "by": {}, "having": {},
	"limit": {}, "offset": {}, "union": {}, "all": {}, "distinct": {},
	"temp": {}, "temporary": {}, "returning": {},
}

// ExtractTables returns the lower-cased table names referenced by the SQL text,
// sorted and without duplicates.
//
// It is a lightweight scan for FROM/JOIN/INTO/UPDATE/CREATE TABLE clauses,
// not a parser: subqueries introduce their tables through their own
// FROM/JOIN keywords, and expressions that shadow keywords are ignored.
func ExtractTables(query string) []string {
	tokens := tokenize(query)

	set := make(map[string]struct{})

	for i, tok := range tokens {
		switch tok {
		case "from", "join", "into", "update":
			if name, ok := tableName(tokens, i+1); ok {
				set[name] = struct{}{}
			}

		case "table":
			// CREATE/ALTER/DROP TABLE [IF [NOT] EXISTS] name
			if i > 0 {
				switch tokens[i-1] {
				case "create", "alter", "drop", "temp", "temporary":
					if name, ok := tableName(tokens, i+1); ok {
						set[name] = struct{}{}
					}
				}
			}
		}
	}

	res := make([]string, 0, len(set))

	for name := range set {
		res = append(res, name)
	}

	slices.Sort(res)

	return res
}

// tableName returns the first identifier at or after position i
// that is not a keyword, skipping IF NOT EXISTS.
func tableName(tokens []string, i int) (string, bool) {
	for i < len(tokens) {
		tok := tokens[i]

		if tok == "if" || tok == "not" || tok == "exists" {
			i++
			continue
		}

		if _, kw := keywords[tok]; kw {
			return "", false
		}

		// strip a schema prefix like main.users
		if j := strings.LastIndexByte(tok, '.'); j >= 0 {
			tok = tok[j+1:]
		}

		if tok == "" {
			return "", false
		}

		return tok, true
	}

	return "", false
}

// tokenize splits SQL text into lower-cased bare tokens.
func tokenize(query string) []string {
	var b strings.Builder
	b.Grow(len(query))

	for _, r := range query {
		switch r {
		case '(', ')', ',', ';', '=', '<', '>':
			b.WriteByte(' ')
		case '"', '`', '[', ']', '\'':
			// identifier quoting styles
		default:
			b.WriteRune(r)
		}
	}

	return strings.Fields(strings.ToLower(b.String()))
}
