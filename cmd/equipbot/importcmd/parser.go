package importcmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/nduati/equipbot/internal/directory"
)

// Columns maps inventory export columns to record fields. The export is
// maintained by hand, so positions occasionally shift; they are
// overridable rather than hard-coded.
type Columns struct {
	ID     int
	Serial int
	Owner  int
	Cohort int
}

// DefaultColumns matches the current master inventory export layout.
var DefaultColumns = Columns{ID: 2, Serial: 6, Owner: 9, Cohort: 10}

// descriptionStores classifies an inventory row by the descriptive
// phrases that appear somewhere in it. Order matters: the charger phrase
// contains "Macbook", so it must be checked before the macbook phrases.
var descriptionStores = []struct {
	Phrase string
	Type   directory.Type
}{
	{"Macbook Charger", directory.TypeChargers},
	{"Thunderbolt-Ethernet adapter", directory.TypeThunderbolts},
	{"Training Macbook", directory.TypeMacbooks},
	{"Company Macbook", directory.TypeMacbooks},
	{"Dongle", directory.TypeDongles},
}

// Stats reports one import pass.
type Stats struct {
	Imported  int
	Skipped   int
	Unmatched int
	PerType   map[directory.Type]int
}

// ParseInventory reads the master inventory CSV and builds a directory
// from the rows it can classify. Rows without an equipment id or owner
// name, and rows matching no known description, are skipped.
func ParseInventory(r io.Reader, cols Columns) (*directory.Directory, Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	dir := directory.New()
	stats := Stats{PerType: make(map[directory.Type]int)}
	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read inventory row %d: %w", line+1, err)
		}
		line++

		t, ok := classifyRow(row)
		if !ok {
			stats.Unmatched++
			continue
		}
		record, ok := recordFromRow(row, cols, t)
		if !ok {
			stats.Skipped++
			continue
		}
		dir.SetRecords(t, append(dir.Records(t), record))
		stats.Imported++
		stats.PerType[t]++
	}
	return dir, stats, nil
}

func classifyRow(row []string) (directory.Type, bool) {
	for _, ds := range descriptionStores {
		for _, cell := range row {
			if strings.Contains(cell, ds.Phrase) {
				return ds.Type, true
			}
		}
	}
	return "", false
}

func recordFromRow(row []string, cols Columns, t directory.Type) (directory.EquipmentRecord, bool) {
	id := strings.TrimSpace(cell(row, cols.ID))
	owner := strings.TrimSpace(cell(row, cols.Owner))
	if id == "" || owner == "" {
		return directory.EquipmentRecord{}, false
	}
	record := directory.EquipmentRecord{
		EquipmentID: id,
		OwnerName:   owner,
	}
	// Serial numbers and cohorts are only tracked for laptops.
	if t == directory.TypeMacbooks {
		record.SerialNumber = strings.TrimSpace(cell(row, cols.Serial))
		record.Cohort = strings.TrimSpace(cell(row, cols.Cohort))
	}
	return record, true
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
