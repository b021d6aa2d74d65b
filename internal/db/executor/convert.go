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

package executor

import (
	"reflect"
	"time"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
)

// ConvertParams converts parameter values into engine-native representations:
// booleans become 0/1, timestamps become milliseconds since epoch.
//
// The original slice is returned unchanged when no parameter requires conversion,
// avoiding allocation on the hot path.
func ConvertParams(params []any) ([]any, error) {
	var needed bool

	for _, p := range params {
		if needsConversion(p) {
			needed = true
			break
		}
	}

	if !needed {
		return params, nil
	}

	res := make([]any, len(params))

	for i, p := range params {
		v, err := convertParam(p)
		if err != nil {
			return nil, err
		}

		res[i] = v
	}

	return res, nil
}

// needsConversion returns true for values that have no engine-native representation as-is.
func needsConversion(p any) bool {
	switch p.(type) {
	case bool, time.Time, *time.Time:
		return true
	case nil, int, int32, int64, uint, uint32, uint64, float32, float64, string, []byte:
		return false
	default:
		// let convertParam decide; unknown types are a mapping error
		return true
	}
}

// convertParam converts a single parameter value.
func convertParam(p any) (any, error) {
	switch v := p.(type) {
	case bool:
		if v {
			return int64(1), nil
		}

		return int64(0), nil

	case time.Time:
		return v.UnixMilli(), nil

	case *time.Time:
		if v == nil {
			return nil, nil
		}

		return v.UnixMilli(), nil

	case nil, int, int32, int64, uint, uint32, uint64, float32, float64, string, []byte:
		return v, nil

	default:
		switch reflect.TypeOf(p).Kind() {
		case reflect.Func, reflect.Chan, reflect.Map, reflect.Struct, reflect.Complex64, reflect.Complex128:
			return nil, dberr.New(dberr.ErrorCodeTypeMapping, lazyerrors.Errorf("cannot map %T to an engine value", p))
		default:
			return v, nil
		}
	}
}
