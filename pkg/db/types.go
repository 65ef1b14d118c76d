// Shared JSON-backed column types
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringArray is a slice of strings stored as JSON
type StringArray []string

// Value implements driver.Valuer for StringArray
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for StringArray
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, s)
}

// Entity is a named entity located in document text.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// EntityList is a slice of entities stored as JSON
type EntityList []Entity

// Value implements driver.Valuer for EntityList
func (e EntityList) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner for EntityList
func (e *EntityList) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, e)
}

// IocMap maps an indicator type key (ip_addresses, domains, hashes, emails,
// urls) to an ordered list of unique values. Stored as JSON.
type IocMap map[string][]string

// Value implements driver.Valuer for IocMap
func (m IocMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for IocMap
func (m *IocMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, m)
}

// Total returns the number of values across all indicator types.
func (m IocMap) Total() int {
	n := 0
	for _, vs := range m {
		n += len(vs)
	}
	return n
}

// Merge adds values from other, preserving first-seen order per type and
// dropping duplicates within a type.
func (m IocMap) Merge(other IocMap) {
	for typ, values := range other {
		seen := make(map[string]struct{}, len(m[typ]))
		for _, v := range m[typ] {
			seen[v] = struct{}{}
		}
		for _, v := range values {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			m[typ] = append(m[typ], v)
		}
	}
}
