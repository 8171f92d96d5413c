// Package record defines the tender record model, identity extraction, and
// content fingerprinting used by the sync pipeline.
package record

import (
	"encoding/json"
	"strings"
	"time"
)

// Supplier is one awarded or participating supplier on a tender.
type Supplier struct {
	Name   string  `json:"name,omitempty"`
	TaxID  string  `json:"tax_id,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// Record is one tender as captured from the remote registry. Known fields are
// typed; anything else the registry exposes lands in Extra so a line in the
// store is always self-contained.
//
// ScrapedAt, DateWindow, and ExtractionMethod are volatile capture metadata:
// they are excluded from both identity and fingerprinting.
type Record struct {
	Number        string     `json:"number,omitempty"`
	Buyer         string     `json:"buyer,omitempty"`
	Title         string     `json:"title,omitempty"`
	Status        string     `json:"status,omitempty"`
	Amount        float64    `json:"amount,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	PublishedDate string     `json:"published_date,omitempty"`
	DeadlineDate  string     `json:"deadline_date,omitempty"`
	CPVCodes      []string   `json:"cpv_codes,omitempty"`
	Suppliers     []Supplier `json:"suppliers,omitempty"`
	AllCells      string     `json:"all_cells,omitempty"`

	ScrapedAt        time.Time `json:"scraped_at,omitzero"`
	DateWindow       string    `json:"date_window,omitempty"`
	ExtractionMethod string    `json:"extraction_method,omitempty"`

	// Extra holds registry fields with no stable schema. Flattened into the
	// top-level JSON object on marshal.
	Extra map[string]any `json:"-"`
}

// VolatileFields are capture metadata keys excluded from fingerprinting.
var VolatileFields = map[string]struct{}{
	"scraped_at":        {},
	"date_window":       {},
	"extraction_method": {},
}

// knownKeys are the JSON keys owned by typed Record fields. Used to separate
// Extra on unmarshal.
var knownKeys = map[string]struct{}{
	"number": {}, "buyer": {}, "title": {}, "status": {},
	"amount": {}, "currency": {}, "published_date": {}, "deadline_date": {},
	"cpv_codes": {}, "suppliers": {}, "all_cells": {},
	"scraped_at": {}, "date_window": {}, "extraction_method": {},
}

type recordAlias Record

// MarshalJSON flattens Extra into the top-level object.
func (r Record) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(recordAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, known := knownKeys[k]; known {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[k] = raw
	}
	return json.Marshal(m)
}

// UnmarshalJSON collects unknown keys into Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k, raw := range m {
		if _, known := knownKeys[k]; known {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if alias.Extra == nil {
			alias.Extra = make(map[string]any)
		}
		alias.Extra[k] = v
	}

	*r = Record(alias)
	return nil
}

// PublishedOn parses the record's published date.
func (r Record) PublishedOn() (time.Time, bool) {
	if r.PublishedDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(r.PublishedDate))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Valid reports whether the record is a real tender row. The registry's
// result table leaks navigation chrome, datepicker cells, and header rows
// into scrapes; those are filtered before they reach the store.
func (r Record) Valid() bool {
	number := strings.TrimSpace(r.Number)
	buyer := strings.TrimSpace(r.Buyer)

	// CMR/CON numbers are consignment and contract documents, not tenders.
	if strings.Contains(number, "მომხმარებლები") ||
		strings.Contains(number, "CMR") ||
		strings.Contains(number, "CON") {
		return false
	}
	if strings.Contains(r.AllCells, "ui-datepicker") {
		return false
	}
	// Bare one- or two-digit numbers are calendar day cells.
	if len(number) <= 2 && number != "" && isDigits(number) {
		return false
	}
	if number == "" && buyer == "" {
		return false
	}
	return true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
