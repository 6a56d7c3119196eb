// Package directory holds the in-memory equipment directory the bot answers
// lookups against. The directory is loaded from a JSON export once at start
// and is read-only at chat time; only the offline reconcile pipeline writes
// it back.
package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Type identifies one equipment store. Values are the plural store names
// used as keys in the directory file.
type Type string

const (
	TypeMacbooks     Type = "macbooks"
	TypeChargers     Type = "chargers"
	TypeThunderbolts Type = "thunderbolts"
	TypeDongles      Type = "dongles"
)

// AllTypes is the stable iteration order for offline pipelines.
var AllTypes = []Type{TypeMacbooks, TypeChargers, TypeThunderbolts, TypeDongles}

// DefaultSearchOrder is the store order FindByID scans. The order is fixed
// and significant: equipment ids are unique within a store but not across
// stores, so the earliest store containing the id wins.
var DefaultSearchOrder = []Type{TypeDongles, TypeChargers, TypeMacbooks, TypeThunderbolts}

// Singular returns the type name without the trailing plural "s",
// for display ("charger", "dongle").
func (t Type) Singular() string {
	return strings.TrimSuffix(string(t), "s")
}

func ParseType(raw string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeMacbooks:
		return TypeMacbooks, true
	case TypeChargers:
		return TypeChargers, true
	case TypeThunderbolts:
		return TypeThunderbolts, true
	case TypeDongles:
		return TypeDongles, true
	default:
		return "", false
	}
}

// EquipmentRecord is one row of the directory. OwnerSlackID and OwnerEmail
// are absent until the reconcile pipeline resolves the free-text owner name
// against Slack.
type EquipmentRecord struct {
	EquipmentID  string `json:"equipment_id"`
	OwnerName    string `json:"owner_name,omitempty"`
	OwnerSlackID string `json:"owner_slack_id,omitempty"`
	OwnerEmail   string `json:"owner_email,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Cohort       string `json:"owner_cohort,omitempty"`
}

// Directory maps each equipment type to its ordered record list.
type Directory struct {
	stores map[Type][]EquipmentRecord
}

func New() *Directory {
	return &Directory{stores: make(map[Type][]EquipmentRecord)}
}

// Records returns the store for one type. The returned slice is the
// directory's own backing slice; callers must not mutate it.
func (d *Directory) Records(t Type) []EquipmentRecord {
	if d == nil {
		return nil
	}
	return d.stores[t]
}

// SetRecords replaces one type store.
func (d *Directory) SetRecords(t Type, records []EquipmentRecord) {
	if d == nil {
		return
	}
	if d.stores == nil {
		d.stores = make(map[Type][]EquipmentRecord)
	}
	d.stores[t] = records
}

// Len reports the total record count across all stores.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, records := range d.stores {
		n += len(records)
	}
	return n
}

// FindByID scans the given store order and returns all records matching the
// id within the first store that yields any match, together with that
// store's type. Later stores are not searched even if they also contain the
// id. The id must already be normalized (upper-case, trimmed) by the caller.
func (d *Directory) FindByID(id string, order []Type) ([]EquipmentRecord, Type, bool) {
	if d == nil || id == "" {
		return nil, "", false
	}
	for _, t := range order {
		var matches []EquipmentRecord
		for _, record := range d.stores[t] {
			if record.EquipmentID == id {
				matches = append(matches, record)
			}
		}
		if len(matches) > 0 {
			return matches, t, true
		}
	}
	return nil, "", false
}

// FindByOwner returns all records in the one given store whose resolved
// owner Slack id equals ownerID.
func (d *Directory) FindByOwner(ownerID string, t Type) []EquipmentRecord {
	if d == nil || strings.TrimSpace(ownerID) == "" {
		return nil
	}
	var matches []EquipmentRecord
	for _, record := range d.stores[t] {
		if record.OwnerSlackID == ownerID {
			matches = append(matches, record)
		}
	}
	return matches
}

// Load reads a directory file and validates its shape at the boundary:
// every top-level key must be a known equipment type and every record must
// carry an equipment id. Records are kept in file order.
func Load(path string) (*Directory, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("directory path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var decoded map[string][]EquipmentRecord
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode directory %s: %w", path, err)
	}
	dir := New()
	for key, records := range decoded {
		t, ok := ParseType(key)
		if !ok {
			return nil, fmt.Errorf("directory %s: unknown equipment type %q", path, key)
		}
		for i, record := range records {
			if strings.TrimSpace(record.EquipmentID) == "" {
				return nil, fmt.Errorf("directory %s: %s[%d] has no equipment_id", path, t, i)
			}
		}
		dir.stores[t] = records
	}
	return dir, nil
}

// Save writes the directory atomically (temp file + rename). Every known
// type is written even when empty, so the file shape stays stable.
func Save(path string, d *Directory) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("directory path is required")
	}
	if d == nil {
		return fmt.Errorf("directory is required")
	}
	out := make(map[Type][]EquipmentRecord, len(AllTypes))
	for _, t := range AllTypes {
		records := d.stores[t]
		if records == nil {
			records = []EquipmentRecord{}
		}
		out[t] = records
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".directory-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
