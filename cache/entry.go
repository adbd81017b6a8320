package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

const (
	// PluginStateVersion is the schema version of PluginState written by this package
	PluginStateVersion int = 1

	keySeparator string = "\x00"
)

// Key identifies a cached object copy
type Key struct {
	DiskID      string
	FileID      string
	FileVersion int
}

// NewKey creates a new Key
func NewKey(diskID string, fileID string, fileVersion int) Key {
	return Key{
		DiskID:      diskID,
		FileID:      fileID,
		FileVersion: fileVersion,
	}
}

// String returns human readable form of the key
func (key Key) String() string {
	return fmt.Sprintf("%s/%s/%d", key.DiskID, key.FileID, key.FileVersion)
}

// encode returns the storage form of the key
func (key Key) encode() string {
	return key.DiskID + keySeparator + key.FileID + keySeparator + strconv.Itoa(key.FileVersion)
}

func decodeKey(encoded string) (Key, error) {
	parts := strings.Split(encoded, keySeparator)
	if len(parts) != 3 {
		return Key{}, xerrors.Errorf("malformed cache key %q", encoded)
	}

	version, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, xerrors.Errorf("malformed file version in cache key %q: %w", encoded, err)
	}

	return NewKey(parts[0], parts[1], version), nil
}

// PluginState is the retention plugin owned state carried across cycles
type PluginState struct {
	Version    int
	Plugin     string
	Attributes map[string]string
	UpdatedAt  time.Time
}

// NewPluginState creates an empty PluginState for the given plugin
func NewPluginState(plugin string) *PluginState {
	return &PluginState{
		Version:    PluginStateVersion,
		Plugin:     plugin,
		Attributes: map[string]string{},
	}
}

// Get returns an attribute
func (state *PluginState) Get(name string) (string, bool) {
	if state == nil || state.Attributes == nil {
		return "", false
	}
	v, ok := state.Attributes[name]
	return v, ok
}

// Set sets an attribute
func (state *PluginState) Set(name string, value string) {
	if state.Attributes == nil {
		state.Attributes = map[string]string{}
	}
	state.Attributes[name] = value
}

// Clone returns a deep copy
func (state *PluginState) Clone() *PluginState {
	if state == nil {
		return nil
	}

	attrs := make(map[string]string, len(state.Attributes))
	for k, v := range state.Attributes {
		attrs[k] = v
	}

	return &PluginState{
		Version:    state.Version,
		Plugin:     state.Plugin,
		Attributes: attrs,
		UpdatedAt:  state.UpdatedAt,
	}
}

// Entry is a cached object copy held on this node
type Entry struct {
	DiskID      string
	FileID      string
	FileVersion int
	Filename    string
	FileSize    int64
	Delete      bool
	LastCheck   time.Time
	CacheTime   time.Time
	State       *PluginState
}

// GetKey returns the key of the entry
func (entry *Entry) GetKey() Key {
	return NewKey(entry.DiskID, entry.FileID, entry.FileVersion)
}

// HasFileInfo returns true if filename has been set
func (entry *Entry) HasFileInfo() bool {
	return len(entry.Filename) > 0
}

// Clone returns a deep copy
func (entry *Entry) Clone() *Entry {
	clone := *entry
	clone.State = entry.State.Clone()
	return &clone
}
