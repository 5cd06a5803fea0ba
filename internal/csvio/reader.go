package csvio

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mailherd/mailherd/internal/domain"
)

// table is a header-indexed CSV file. Column lookup is case-insensitive
// and tolerates a UTF-8 BOM on the first header cell.
type table struct {
	path string
	cols map[string]int
	rows [][]string
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty file, expected a header row", path)
	}

	cols := make(map[string]int, len(records[0]))
	for i, cell := range records[0] {
		if i == 0 {
			cell = strings.TrimPrefix(cell, "\ufeff")
		}
		cols[strings.ToLower(strings.TrimSpace(cell))] = i
	}
	return &table{path: path, cols: cols, rows: records[1:]}, nil
}

func (t *table) require(names ...string) error {
	for _, name := range names {
		if _, ok := t.cols[name]; !ok {
			return fmt.Errorf("%s: missing required column %q", t.path, name)
		}
	}
	return nil
}

func (t *table) get(row []string, name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) getBool(row []string, name string, fallback bool) (bool, error) {
	s := t.get(row, name)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("column %q: %w", name, err)
	}
	return v, nil
}

func (t *table) getInt(row []string, name string) (int, error) {
	s := t.get(row, name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", name, err)
	}
	return v, nil
}

// ReadDomains loads the `domain` column of a CSV file, skipping blank rows.
func ReadDomains(path string) ([]string, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("domain"); err != nil {
		return nil, err
	}

	var domains []string
	for _, row := range t.rows {
		if d := t.get(row, "domain"); d != "" {
			domains = append(domains, d)
		}
	}
	return domains, nil
}

// ReadAccounts loads mailbox-creation rows. The `email` column is required;
// `password` and `quota_mb` are optional. A blank password means the caller
// is expected to generate one.
func ReadAccounts(path string) ([]domain.CreateRequest, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("email"); err != nil {
		return nil, err
	}

	var reqs []domain.CreateRequest
	for n, row := range t.rows {
		addr := t.get(row, "email")
		if addr == "" {
			continue
		}
		box, err := domain.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("%s record %d: %w", t.path, n+1, err)
		}
		quota, err := t.getInt(row, "quota_mb")
		if err != nil {
			return nil, fmt.Errorf("%s record %d: %w", t.path, n+1, err)
		}
		reqs = append(reqs, domain.CreateRequest{
			Mailbox:  box,
			Password: t.get(row, "password"),
			QuotaMB:  quota,
		})
	}
	return reqs, nil
}

// ReadSyncJobs loads migration rows. Required columns: host1, user1,
// password1, host2, user2, password2. Optional: port1, port2 and
// ssl1, ssl2 — the ssl columns default to true when blank.
func ReadSyncJobs(path string) ([]domain.SyncJob, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("host1", "user1", "password1", "host2", "user2", "password2"); err != nil {
		return nil, err
	}

	var jobs []domain.SyncJob
	for n, row := range t.rows {
		if t.get(row, "host1") == "" && t.get(row, "user1") == "" {
			continue
		}
		job := domain.SyncJob{
			Host1:     t.get(row, "host1"),
			User1:     t.get(row, "user1"),
			Password1: t.get(row, "password1"),
			Host2:     t.get(row, "host2"),
			User2:     t.get(row, "user2"),
			Password2: t.get(row, "password2"),
		}
		for _, field := range []struct {
			name string
			dst  *string
		}{
			{"host1", &job.Host1}, {"user1", &job.User1}, {"password1", &job.Password1},
			{"host2", &job.Host2}, {"user2", &job.User2}, {"password2", &job.Password2},
		} {
			if *field.dst == "" {
				return nil, fmt.Errorf("%s record %d: column %q is blank", t.path, n+1, field.name)
			}
		}
		if job.SSL1, err = t.getBool(row, "ssl1", true); err != nil {
			return nil, fmt.Errorf("%s record %d: %w", t.path, n+1, err)
		}
		if job.SSL2, err = t.getBool(row, "ssl2", true); err != nil {
			return nil, fmt.Errorf("%s record %d: %w", t.path, n+1, err)
		}
		if job.Port1, err = t.getInt(row, "port1"); err != nil {
			return nil, fmt.Errorf("%s record %d: %w", t.path, n+1, err)
		}
		if job.Port2, err = t.getInt(row, "port2"); err != nil {
			return nil, fmt.Errorf("%s record %d: %w", t.path, n+1, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
