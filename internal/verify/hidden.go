package verify

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// FieldHit locates a hidden field inside one captured response.
type FieldHit struct {
	// Where names the response, "METHOD url".
	Where string
	// Path is the location inside the body, e.g. "items[2].tcvAmount".
	Path string
}

// ScanForField walks every captured JSON response body looking for field as
// an object key at any depth. Used by both the API verification leg and the
// assert_field_absent_in_api executor step. Bodies that do not parse as
// JSON are skipped: the check is about structured API payloads, not HTML.
func ScanForField(traffic schemas.TrafficReader, field string) []FieldHit {
	if traffic == nil {
		return nil
	}
	return scanExchangesForField(traffic.Exchanges(), field)
}

func scanExchangesForField(exchanges []schemas.Exchange, field string) []FieldHit {
	var hits []FieldHit
	for i := range exchanges {
		ex := &exchanges[i]
		if len(ex.RespBody) == 0 {
			continue
		}
		var doc interface{}
		if err := jsonAPI.Unmarshal(ex.RespBody, &doc); err != nil {
			continue
		}
		var paths []string
		findField(doc, field, "", &paths)
		if len(paths) == 0 {
			continue
		}
		// Map walk order is random; sort so reports are deterministic.
		sort.Strings(paths)
		where := fmt.Sprintf("%s %s", ex.Method, ex.URL)
		for _, p := range paths {
			hits = append(hits, FieldHit{Where: where, Path: p})
		}
	}
	return hits
}

func findField(node interface{}, field, path string, hits *[]string) {
	switch val := node.(type) {
	case map[string]interface{}:
		for key, child := range val {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if key == field {
				*hits = append(*hits, childPath)
			}
			findField(child, field, childPath, hits)
		}
	case []interface{}:
		for i, child := range val {
			findField(child, field, fmt.Sprintf("%s[%d]", path, i), hits)
		}
	}
}
