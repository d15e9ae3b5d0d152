// Package http provides the JSON API server and its handlers.
//
// This file implements request decoding. Every client value enters the
// system here and is validated before it reaches the services.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"kasa/internal/core"
	"kasa/internal/services"
)

// maxBodyBytes bounds every request body; a full month edit is a few KB.
const maxBodyBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON objects and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = readBody(r)
	return p
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		// Keep amounts as written so 0.1 does not pass through float64.
		dec.UseNumber()
		p.jsonData = make(map[string]any)
		if err := dec.Decode(&p.jsonData); err != nil {
			p.jsonData = nil
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(trimmed))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// GetRaw returns the raw body bytes.
func (p *RequestBodyParser) GetRaw() []byte {
	return p.body
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// Credentials is the body of register and login.
type Credentials struct {
	Username string
	Password string
}

// ParseCredentials reads username and password. The password is not
// sanitized; it is hashed as sent.
func ParseCredentials(r *http.Request) (Credentials, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return Credentials{}, err
	}
	creds := Credentials{Username: p.Get("username")}
	switch {
	case p.jsonData != nil:
		creds.Password = stringValue(p.jsonData["password"])
	case p.formData != nil:
		creds.Password = p.formData.Get("password")
	}
	return creds, nil
}

// ParseItemInput reads one item of kind from the request body. Amounts use
// the same grammar as stored records; installments also need mode and count.
func ParseItemInput(r *http.Request, kind string) (services.ItemInput, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return services.ItemInput{}, err
	}

	in := services.ItemInput{
		Name:  p.Get("name"),
		Notes: p.Get("notes"),
	}

	amount, err := core.ParseAmount(p.Get("amount"))
	if err != nil {
		return services.ItemInput{}, fmt.Errorf("%w: amount: %w", services.ErrValidation, err)
	}
	in.Amount = amount

	if kind != services.KindInstallment {
		return in, nil
	}

	in.Mode = p.Get("mode")
	if in.Mode == "" {
		in.Mode = core.ModeTotal
	}
	count, err := strconv.Atoi(p.Get("count"))
	if err != nil || count <= 0 {
		return services.ItemInput{}, fmt.Errorf("%w: count: %w", services.ErrValidation, core.ErrInvalidCount)
	}
	in.Count = count
	return in, nil
}

// EditRequest is the body of a month edit: the composite the client was
// shown and its edited version.
type EditRequest struct {
	Previous core.MonthlySnapshot `json:"previous"`
	Next     core.MonthlySnapshot `json:"next"`
}

// ParseEditRequest decodes a month edit. Unknown fields are rejected so a
// misspelled list name cannot silently drop items.
func ParseEditRequest(r *http.Request) (EditRequest, error) {
	body, err := readBody(r)
	if err != nil {
		return EditRequest{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var req EditRequest
	if err := dec.Decode(&req); err != nil {
		return EditRequest{}, fmt.Errorf("decode edit: %w", err)
	}
	if dec.More() {
		return EditRequest{}, errors.New("decode edit: trailing data after JSON body")
	}
	req.Previous.Normalize()
	req.Next.Normalize()
	return req, nil
}

// monthParam reads and strictly validates the {month} path value.
func monthParam(r *http.Request) (string, error) {
	month := strings.TrimSpace(r.PathValue("month"))
	if err := core.ValidateMonthKey(month); err != nil {
		return "", fmt.Errorf("%w: %w", services.ErrValidation, err)
	}
	return month, nil
}
