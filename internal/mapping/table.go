// Copyright 2024-2025 CardinalHQ, Inc
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

package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/ecs-task-annotator/internal/resourceref"
)

// ServiceRoles is the monitoring service label and role tags attached to
// annotations for one ECS service. Role order is kept for display.
type ServiceRoles struct {
	Service string   `json:"service" yaml:"service"`
	Roles   []string `json:"roles" yaml:"roles"`
}

func (sr ServiceRoles) clone() ServiceRoles {
	roles := make([]string, len(sr.Roles))
	copy(roles, sr.Roles)
	return ServiceRoles{Service: sr.Service, Roles: roles}
}

func (sr ServiceRoles) Equals(other ServiceRoles) bool {
	return sr.Service == other.Service && slices.Equal(sr.Roles, other.Roles)
}

// Entry pairs an ECS service ARN with the labels to use for it.
type Entry struct {
	Ref string
	ServiceRoles
}

var (
	ErrDuplicateMappingKey = errors.New("duplicate mapping key")
	ErrMalformedKey        = errors.New("malformed mapping key")
)

type DuplicateKeyError struct {
	Key         string
	Ref         string
	PreviousRef string
}

func (e *DuplicateKeyError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("duplicate mapping key %q", e.Key)
	}
	return fmt.Sprintf("duplicate mapping key %q: %s collides with %s", e.Key, e.Ref, e.PreviousRef)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateMappingKey }

// Table maps canonical keys ("service:<name>") to ServiceRoles.
// A Table never changes after Build or Decode returns, so it may be
// shared between goroutines.
type Table struct {
	entries map[string]ServiceRoles
	refs    map[string]string
	hash    uint64
}

func newTable(size int) *Table {
	return &Table{
		entries: make(map[string]ServiceRoles, size),
		refs:    make(map[string]string, size),
	}
}

// Build resolves every entry in order and returns the resulting table.
// The first invalid ref or duplicate key aborts the build; no partial
// table is returned.
func Build(entries []Entry) (*Table, error) {
	t := newTable(len(entries))
	for _, e := range entries {
		key, err := resourceref.CanonicalKey(e.Ref)
		if err != nil {
			return nil, err
		}
		if prev, found := t.refs[key]; found {
			return nil, &DuplicateKeyError{Key: key, Ref: e.Ref, PreviousRef: prev}
		}
		t.entries[key] = e.ServiceRoles.clone()
		t.refs[key] = e.Ref
	}
	if err := t.seal(); err != nil {
		return nil, err
	}
	return t, nil
}

// Decode loads a table previously produced by MarshalJSON, as handed to
// the annotation handler. A key repeated in the input is rejected like a
// duplicate in Build.
func Decode(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	t := newTable(0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("cannot decode mapping: %w", err)
		}
		key := tok.(string)
		if !strings.HasPrefix(key, resourceref.KeyPrefix) || key == resourceref.KeyPrefix {
			return nil, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		if _, exists := t.entries[key]; exists {
			return nil, &DuplicateKeyError{Key: key}
		}
		var sr ServiceRoles
		if err := dec.Decode(&sr); err != nil {
			return nil, fmt.Errorf("cannot decode mapping entry %q: %w", key, err)
		}
		t.entries[key] = sr.clone()
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot decode mapping: trailing data")
	}
	if err := t.seal(); err != nil {
		return nil, err
	}
	return t, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("cannot decode mapping: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("cannot decode mapping: expected %q, got %v", want, tok)
	}
	return nil
}

func (t *Table) seal() error {
	data, err := t.MarshalJSON()
	if err != nil {
		return fmt.Errorf("cannot serialize mapping: %w", err)
	}
	t.hash = xxhash.Sum64(data)
	return nil
}

func (t *Table) Len() int {
	return len(t.entries)
}

// Keys returns the canonical keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Lookup returns the labels for a canonical key. ECS reports the same
// value as the "group" of a task started by a service.
func (t *Table) Lookup(key string) (ServiceRoles, bool) {
	sr, found := t.entries[key]
	if !found {
		return ServiceRoles{}, false
	}
	return sr.clone(), true
}

// Ref returns the ARN the key was built from. Tables loaded with Decode
// carry no refs.
func (t *Table) Ref(key string) string {
	return t.refs[key]
}

// Hash is a content hash of the serialized table.
func (t *Table) Hash() uint64 {
	return t.hash
}

// Serialize returns a copy of the table as a plain map.
func (t *Table) Serialize() map[string]ServiceRoles {
	out := make(map[string]ServiceRoles, len(t.entries))
	for k, v := range t.entries {
		out[k] = v.clone()
	}
	return out
}

func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.entries)
}
