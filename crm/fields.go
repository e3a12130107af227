package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// customerFields maps the JSON name of every mutable top-level customer
// field to a pointer accessor. Identity, version and timestamps are not
// listed and can never be changed through a field update.
var customerFields = map[string]func(c *Customer) any{
	"organizationId":  func(c *Customer) any { return &c.OrganizationID },
	"type":            func(c *Customer) any { return &c.Type },
	"status":          func(c *Customer) any { return &c.Status },
	"source":          func(c *Customer) any { return &c.Source },
	"industry":        func(c *Customer) any { return &c.Industry },
	"firstName":       func(c *Customer) any { return &c.FirstName },
	"lastName":        func(c *Customer) any { return &c.LastName },
	"businessName":    func(c *Customer) any { return &c.BusinessName },
	"displayName":     func(c *Customer) any { return &c.DisplayName },
	"assignedTo":      func(c *Customer) any { return &c.AssignedTo },
	"tags":            func(c *Customer) any { return &c.Tags },
	"notes":           func(c *Customer) any { return &c.Notes },
	"contacts":        func(c *Customer) any { return &c.Contacts },
	"addresses":       func(c *Customer) any { return &c.Addresses },
	"preferences":     func(c *Customer) any { return &c.Preferences },
	"metrics":         func(c *Customer) any { return &c.Metrics },
	"lastContactDate": func(c *Customer) any { return &c.LastContactDate },
}

// DefaultTrackedFields are compared against the remote authority on sync.
var DefaultTrackedFields = []string{"firstName", "lastName", "businessName", "status"}

// IsCustomerField reports whether name is a mutable customer field.
func IsCustomerField(name string) bool {
	_, ok := customerFields[name]
	return ok
}

// CustomerFieldNames returns the mutable field names in sorted order.
func CustomerFieldNames() []string {
	names := make([]string, 0, len(customerFields))
	for name := range customerFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldValue returns the JSON encoding of a customer field.
func FieldValue(c *Customer, field string) (json.RawMessage, error) {
	ptr, ok := customerFields[field]
	if !ok {
		return nil, fmt.Errorf("unknown customer field %q", field)
	}
	return json.Marshal(ptr(c))
}

// setFieldValue replaces a customer field with the decoded raw value.
func setFieldValue(c *Customer, field string, raw json.RawMessage) error {
	ptr, ok := customerFields[field]
	if !ok {
		return fmt.Errorf("unknown customer field %q", field)
	}
	target := ptr(c)
	// zero first so struct fields absent from raw do not survive the decode
	v := reflect.ValueOf(target).Elem()
	v.Set(reflect.Zero(v.Type()))
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	return nil
}

func rawEqual(a, b json.RawMessage) bool {
	return bytes.Equal(normalizeRaw(a), normalizeRaw(b))
}

func normalizeRaw(r json.RawMessage) []byte {
	if len(r) == 0 {
		return []byte("null")
	}
	return r
}

type fieldChange struct {
	field string
	value any
}

// fieldChanges lists the fields the update sets, in a stable order.
func (u CustomerUpdate) fieldChanges() []fieldChange {
	var out []fieldChange
	add := func(field string, set bool, v any) {
		if set {
			out = append(out, fieldChange{field: field, value: v})
		}
	}
	add("firstName", u.FirstName != nil, u.FirstName)
	add("lastName", u.LastName != nil, u.LastName)
	add("businessName", u.BusinessName != nil, u.BusinessName)
	add("displayName", u.DisplayName != nil, u.DisplayName)
	add("type", u.Type != nil, u.Type)
	add("status", u.Status != nil, u.Status)
	add("source", u.Source != nil, u.Source)
	add("industry", u.Industry != nil, u.Industry)
	add("assignedTo", u.AssignedTo != nil, u.AssignedTo)
	add("tags", u.Tags != nil, u.Tags)
	add("notes", u.Notes != nil, u.Notes)
	add("contacts", u.Contacts != nil, u.Contacts)
	add("addresses", u.Addresses != nil, u.Addresses)
	add("preferences", u.Preferences != nil, u.Preferences)
	add("metrics", u.Metrics != nil, u.Metrics)
	add("lastContactDate", u.LastContactDate != nil, u.LastContactDate)
	return out
}

// changeTypeFor maps a field to the change type recorded for it.
func changeTypeFor(field string) ChangeType {
	switch field {
	case "addresses":
		return ChangeAddress
	case "contacts":
		return ChangeContact
	default:
		return ChangeUpdate
	}
}
