package rbac

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/em1l4k/docflow/internal/logging"
)

// CSVRoster reads roster entries from a whitelist CSV with the header
// identity,role,full_name,is_active.
type CSVRoster struct {
	path   string
	logger *logging.Logger
}

// NewCSVRoster creates a CSVRoster for the file at path.
func NewCSVRoster(path string, logger *logging.Logger) *CSVRoster {
	return &CSVRoster{path: path, logger: logger}
}

// Load implements RosterSource. Lines with an unknown role or a malformed
// field are rejected individually with a warning; only an unreadable file or
// a bad header fails the load as a whole.
func (r *CSVRoster) Load(ctx context.Context) ([]ActorEntry, int, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, 0, fmt.Errorf("open roster %s: %w", r.path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read roster header: %w", err)
	}
	cols, err := headerIndex(header)
	if err != nil {
		return nil, 0, err
	}

	var entries []ActorEntry
	skipped := 0
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.logger.Warn("roster line rejected", "line", line, "error", err)
			skipped++
			continue
		}

		entry, err := parseRecord(record, cols)
		if err != nil {
			r.logger.Warn("roster line rejected", "line", line, "error", err)
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	return entries, skipped, nil
}

type columns struct {
	identity, role, fullName, active int
}

func headerIndex(header []string) (columns, error) {
	cols := columns{identity: -1, role: -1, fullName: -1, active: -1}
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "identity":
			cols.identity = i
		case "role":
			cols.role = i
		case "full_name":
			cols.fullName = i
		case "is_active":
			cols.active = i
		}
	}
	if cols.identity < 0 || cols.role < 0 {
		return cols, fmt.Errorf("roster header missing identity/role columns: %v", header)
	}
	return cols, nil
}

func parseRecord(record []string, cols columns) (ActorEntry, error) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	identity := field(cols.identity)
	if identity == "" {
		return ActorEntry{}, fmt.Errorf("empty identity")
	}

	role, err := ParseRole(field(cols.role))
	if err != nil {
		return ActorEntry{}, err
	}

	active := true
	if raw := field(cols.active); raw != "" {
		active = parseBool(raw)
	}

	return ActorEntry{
		Identity: identity,
		Role:     role,
		FullName: field(cols.fullName),
		Active:   active,
	}, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
