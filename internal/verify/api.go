package verify

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// endpointSpec is a parsed "METHOD /path" verification point. An empty
// method matches any method.
type endpointSpec struct {
	method string
	path   string
}

func parseEndpoint(raw string) endpointSpec {
	fields := strings.Fields(strings.TrimSpace(raw))
	switch len(fields) {
	case 0:
		return endpointSpec{}
	case 1:
		return endpointSpec{path: fields[0]}
	default:
		return endpointSpec{method: strings.ToUpper(fields[0]), path: fields[1]}
	}
}

// matches reports whether a captured exchange satisfies the endpoint spec.
// The URL path matches when it contains or ends with the expected path, so
// "/items" matches both "/api/items" and "/items/42/edit".
func (e endpointSpec) matches(ex schemas.Exchange) bool {
	if e.path == "" {
		return false
	}
	if e.method != "" && !strings.EqualFold(ex.Method, e.method) {
		return false
	}
	u, err := url.Parse(ex.URL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, e.path) || strings.HasSuffix(u.Path, e.path)
}

// checkAPI scans the captured traffic for the mission's endpoint, confirms
// the expected values appear in its response, and sweeps every response
// body for fields the persona must not see. A hidden field found anywhere
// fails the leg as a security violation regardless of how the endpoint
// check went.
func (v *Verifier) checkAPI(m *schemas.Mission, traffic schemas.TrafficReader) (schemas.LegResult, string) {
	if !m.Scope.APIEnabled() {
		return skippedLeg("api leg disabled by test_scope"), ""
	}
	vp := m.Verification
	if vp.APIEndpoint == "" && len(vp.HiddenAPIFields) == 0 {
		return skippedLeg("no api verification points configured"), ""
	}

	var exchanges []schemas.Exchange
	if traffic != nil {
		exchanges = traffic.Exchanges()
	}
	actedAs := actedAsFromTraffic(exchanges)

	// Hidden fields first: a leak is a violation even when the endpoint
	// check would pass.
	for _, field := range vp.HiddenAPIFields {
		hits := scanExchangesForField(exchanges, field)
		if len(hits) == 0 {
			continue
		}
		violation := &schemas.SecurityViolationError{Field: field, Where: hits[0].Where}
		occurrences := make([]string, 0, len(hits))
		for _, hit := range hits {
			occurrences = append(occurrences, fmt.Sprintf("%s at %s", hit.Where, hit.Path))
		}
		return schemas.LegResult{
			Status:            schemas.LegFailed,
			SecurityViolation: true,
			Error:             violation.Error(),
			Details: map[string]interface{}{
				"field":       field,
				"occurrences": occurrences,
			},
		}, actedAs
	}

	if vp.APIEndpoint == "" {
		return passedLeg(map[string]interface{}{
			"hidden_fields_absent": vp.HiddenAPIFields,
			"responses_scanned":    len(exchanges),
		}), actedAs
	}

	if len(exchanges) == 0 {
		return failedLeg(
			fmt.Sprintf("no API traffic captured; expected a call to %s", vp.APIEndpoint),
			map[string]interface{}{"endpoint": vp.APIEndpoint},
		), actedAs
	}

	// The latest matching call wins: retries and polling mean earlier
	// calls may predate the action under test.
	spec := parseEndpoint(vp.APIEndpoint)
	var matched *schemas.Exchange
	for i := range exchanges {
		if spec.matches(exchanges[i]) {
			matched = &exchanges[i]
		}
	}
	if matched == nil {
		return failedLeg(
			fmt.Sprintf("no captured call matched %s", vp.APIEndpoint),
			map[string]interface{}{
				"endpoint":       vp.APIEndpoint,
				"captured_calls": len(exchanges),
			},
		), actedAs
	}

	if vp.FilterParam != "" {
		u, err := url.Parse(matched.URL)
		if err != nil || !u.Query().Has(vp.FilterParam) {
			return failedLeg(
				fmt.Sprintf("filter parameter %q not found in API call", vp.FilterParam),
				map[string]interface{}{"url": matched.URL},
			), actedAs
		}
	}

	if len(vp.ExpectedValues) > 0 {
		mismatches, err := matchResponseBody(matched.RespBody, vp.ExpectedValues)
		if err != nil {
			return failedLeg(err.Error(), map[string]interface{}{
				"url":    matched.URL,
				"status": matched.Status,
			}), actedAs
		}
		if len(mismatches) > 0 {
			return failedLeg(
				"expected values not reflected in the API response",
				map[string]interface{}{
					"url":        matched.URL,
					"status":     matched.Status,
					"mismatches": mismatches,
				},
			), actedAs
		}
	}

	return passedLeg(map[string]interface{}{
		"method": matched.Method,
		"url":    matched.URL,
		"status": matched.Status,
	}), actedAs
}

// matchResponseBody compares expected values against a JSON response body.
// Object bodies must carry every expected field; array bodies pass when any
// element does.
func matchResponseBody(body []byte, expected map[string]interface{}) (map[string]interface{}, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("matched call has no response body to inspect")
	}
	var doc interface{}
	if err := jsonAPI.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("matched call's response body is not JSON: %v", err)
	}

	switch payload := doc.(type) {
	case map[string]interface{}:
		return objectMismatches(payload, expected), nil
	case []interface{}:
		for _, el := range payload {
			obj, ok := el.(map[string]interface{})
			if !ok {
				continue
			}
			if len(objectMismatches(obj, expected)) == 0 {
				return nil, nil
			}
		}
		return map[string]interface{}{
			"_list": fmt.Sprintf("no element of the %d-item response matched all expected values", len(payload)),
		}, nil
	default:
		return nil, fmt.Errorf("matched call's response body is neither a JSON object nor an array")
	}
}

func objectMismatches(obj, expected map[string]interface{}) map[string]interface{} {
	mismatches := make(map[string]interface{})
	for field, want := range expected {
		got, ok := lookupField(obj, field)
		if !ok {
			mismatches[field] = map[string]interface{}{
				"expected": want,
				"actual":   nil,
				"reason":   "field absent",
			}
			continue
		}
		if !valuesMatch(want, got) {
			mismatches[field] = map[string]interface{}{
				"expected": want,
				"actual":   got,
			}
		}
	}
	return mismatches
}

// lookupField tries the field name as given, then through the column alias,
// so "item_name" finds a response's "name".
func lookupField(obj map[string]interface{}, field string) (interface{}, bool) {
	if v, ok := obj[field]; ok {
		return v, true
	}
	if alias := columnFor(field); alias != field {
		if v, ok := obj[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

// actedAsFromTraffic pulls an identity out of the newest parseable bearer
// token. The token is decoded, never validated: this is audit attribution,
// not authentication.
func actedAsFromTraffic(exchanges []schemas.Exchange) string {
	parser := jwt.NewParser()
	for i := len(exchanges) - 1; i >= 0; i-- {
		token := exchanges[i].BearerToken()
		if token == "" {
			continue
		}
		parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
		if err != nil {
			continue
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			continue
		}
		for _, claim := range []string{"preferred_username", "username", "email", "sub"} {
			if s, ok := claims[claim].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
