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

package engine

// kind is the operation kind of a worker request.
type kind int

// Operation kinds.
const (
	_ kind = iota
	kindExecute
	kindQuery
	kindQueryRaw
	kindInsert
	kindUpdate
	kindTransaction
	kindBatch
	kindClose
)

// String implements fmt.Stringer.
func (k kind) String() string {
	switch k {
	case kindExecute:
		return "execute"
	case kindQuery:
		return "query"
	case kindQueryRaw:
		return "queryRaw"
	case kindInsert:
		return "insert"
	case kindUpdate:
		return "update"
	case kindTransaction:
		return "transaction"
	case kindBatch:
		return "batch"
	case kindClose:
		return "close"
	default:
		return "unknown"
	}
}

// read returns true for kinds served by read connections.
func (k kind) read() bool {
	return k == kindQuery || k == kindQueryRaw
}

// request is one worker protocol message.
//
// Ids are per-session monotonic and never reused.
//
//nolint:vet // for readability
type request struct {
	id   uint64
	kind kind

	sql    string
	params []any

	// ordered list for transaction and batch kinds
	ops []Op
}

// response carries the result or the error for the request with the same id.
//
//nolint:vet // for readability
type response struct {
	id   uint64
	data any
	err  error
}
