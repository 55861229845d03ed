package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/store/postgres"
)

// loadFirms reads the roster from the given file, or from the firms table
// when no file is supplied.
func loadFirms(ctx context.Context, path string, store *postgres.Store) ([]crawl.Firm, error) {
	if path != "" {
		return loadFirmsFile(path)
	}
	if store == nil {
		return nil, errors.New("no --firms file and no database configured")
	}
	return store.ListFirms(ctx)
}

func loadFirmsFile(path string) ([]crawl.Firm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firms file: %w", err)
	}

	var firms []crawl.Firm
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &firms); err != nil {
			return nil, fmt.Errorf("parse firms json: %w", err)
		}
	case ".csv":
		firms, err = parseFirmsCSV(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported firms file type %q", filepath.Ext(path))
	}

	for i, firm := range firms {
		if firm.ID == "" || firm.WebsiteRoot == "" {
			return nil, fmt.Errorf("firms entry %d is missing firm_id or website_root", i)
		}
	}
	return firms, nil
}

// parseFirmsCSV expects a header row with firm_id and website_root columns.
func parseFirmsCSV(data []byte) ([]crawl.Firm, error) {
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse firms csv: %w", err)
	}
	if len(records) < 2 {
		return nil, errors.New("firms csv needs a header row and at least one firm")
	}

	idCol, rootCol := -1, -1
	for i, name := range records[0] {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "firm_id":
			idCol = i
		case "website_root":
			rootCol = i
		}
	}
	if idCol < 0 || rootCol < 0 {
		return nil, errors.New("firms csv header must include firm_id and website_root")
	}

	firms := make([]crawl.Firm, 0, len(records)-1)
	for _, row := range records[1:] {
		firms = append(firms, crawl.Firm{
			ID:          strings.TrimSpace(row[idCol]),
			WebsiteRoot: strings.TrimSpace(row[rootCol]),
		})
	}
	return firms, nil
}
