// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"net/http"
	"sort"
)

// Field is a single header name paired with its ordered list of values.
// Repeated headers of the same name (e.g. multiple Set-Cookie lines) are
// represented as multiple entries in Values, never merged.
type Field struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Headers is an ordered multimap of header name to value list. Unlike
// net/http.Header, iteration order matches insertion order: the wire
// format requires header order to be preserved across a proxy hop, and a
// Go map cannot make that promise.
type Headers []Field

// Add appends value to the list for name, creating the entry if it does
// not exist yet.
func (h *Headers) Add(name, value string) {
	for i := range *h {
		if (*h)[i].Name == name {
			(*h)[i].Values = append((*h)[i].Values, value)
			return
		}
	}
	*h = append(*h, Field{Name: name, Values: []string{value}})
}

// Get returns the first value for name, or "" if absent.
func (h Headers) Get(name string) string {
	for _, field := range h {
		if field.Name == name {
			if len(field.Values) == 0 {
				return ""
			}
			return field.Values[0]
		}
	}
	return ""
}

// Values returns all values for name, or nil if absent.
func (h Headers) Values(name string) []string {
	for _, field := range h {
		if field.Name == name {
			return field.Values
		}
	}
	return nil
}

// FromHTTPHeader builds a Headers value from a net/http.Header. Since
// net/http.Header is a map, original wire order across distinct header
// names is already lost by the time net/http hands it to us; entries are
// emitted in sorted-key order for determinism, with each name's own
// value list preserved in the order net/http recorded them.
func FromHTTPHeader(h http.Header) Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make(Headers, 0, len(names))
	for _, name := range names {
		values := h[name]
		copied := make([]string, len(values))
		copy(copied, values)
		headers = append(headers, Field{Name: name, Values: copied})
	}
	return headers
}

// ToHTTPHeader converts Headers back into a net/http.Header suitable for
// attaching to an outbound *http.Request or *http.Response.
func (h Headers) ToHTTPHeader() http.Header {
	out := make(http.Header, len(h))
	for _, field := range h {
		out[field.Name] = append([]string(nil), field.Values...)
	}
	return out
}
