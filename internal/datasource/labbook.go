package datasource

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"maps"

	"github.com/banshee-data/postexperiment/internal/httputil"
	"github.com/banshee-data/postexperiment/internal/monitoring"
	"github.com/banshee-data/postexperiment/internal/shot"
)

// LabBookSource reads a hand written shot log exported as CSV, e.g. a Google
// Docs sheet downloaded with format=csv, and expands it to one record per shot.
type LabBookSource struct {
	Client httputil.HTTPClient
	URL    string
	Fetch  httputil.FetchOptions

	// IDField holds the consecutive integer shot number.
	IDField string

	Entry  EntryOptions
	Expand ExpandOptions
}

// NewLabBookSource returns a source with the header in row 1, data from row 2
// on and carried-forward values reset after every interruption.
func NewLabBookSource(client httputil.HTTPClient, url, idField string) *LabBookSource {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &LabBookSource{
		Client:  client,
		URL:     url,
		IDField: idField,
		Entry:   EntryOptions{Header: 1, RowStart: 2},
		Expand:  ExpandOptions{ResetDiscontinued: true},
	}
}

// Records implements shot.Source.
func (s *LabBookSource) Records(ctx context.Context) ([]shot.Record, error) {
	body, err := httputil.Fetch(ctx, s.Client, s.URL, s.Fetch)
	if err != nil {
		return nil, err
	}
	table, err := ParseCSV(body)
	if err != nil {
		return nil, fmt.Errorf("lab book %s: %w", s.URL, err)
	}
	entries, err := ShotlogEntries(table, s.Entry)
	if err != nil {
		return nil, fmt.Errorf("lab book %s: %w", s.URL, err)
	}
	recs := ExpandShotlist(entries, s.IDField, s.Expand)
	monitoring.Logf("lab book: %d rows expanded to %d shots", len(entries), len(recs))
	return recs, nil
}

// ParseCSV reads a table allowing rows of different length.
func ParseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// EntryOptions select the part of the table holding shot log entries.
type EntryOptions struct {
	// Header is the index of the row naming the columns.
	Header int
	// RowStart and RowEnd bound the data rows like a slice [RowStart:RowEnd].
	// RowEnd 0 means the end of the table; negative values count from the end.
	RowStart int
	RowEnd   int
	// ValidEntry decides whether a cell is kept. The default drops empty
	// cells.
	ValidEntry func(header, value string) bool
}

func defaultValidEntry(_, value string) bool { return value != "" }

// ShotlogEntries turns the table rows into records keyed by the header row,
// one per row.
func ShotlogEntries(table [][]string, opts EntryOptions) ([]shot.Record, error) {
	if opts.Header < 0 || opts.Header >= len(table) {
		return nil, fmt.Errorf("header row %d outside table of %d rows", opts.Header, len(table))
	}
	valid := opts.ValidEntry
	if valid == nil {
		valid = defaultValidEntry
	}
	header := table[opts.Header]

	start, end := sliceBounds(opts.RowStart, opts.RowEnd, len(table))
	recs := make([]shot.Record, 0, max(end-start, 0))
	for _, row := range table[start:max(end, start)] {
		rec := shot.Record{}
		for i := 0; i < len(header) && i < len(row); i++ {
			if valid(header[i], row[i]) {
				rec[header[i]] = row[i]
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func sliceBounds(start, end, n int) (int, int) {
	norm := func(i int) int {
		if i < 0 {
			i += n
		}
		return min(max(i, 0), n)
	}
	if end == 0 {
		end = n
	}
	return norm(start), norm(end)
}

// ExpandOptions control ExpandShotlist.
type ExpandOptions struct {
	// ResetDiscontinued drops carried-forward values after an interruption.
	ResetDiscontinued bool
	// ValidRow may reject rows; a rejected row stops values from being
	// carried forward. The default accepts every row.
	ValidRow func(shot.Record) bool
}

// ExpandShotlist returns one record for every shot. Lab books often log only
// every n-th shot or the shots where parameters changed; gaps in the shot
// number are filled with copies of the accumulated values, and values carry
// forward to later rows until they are interrupted by a decreasing shot
// number, a row without a valid shot number, or a row rejected by ValidRow.
// A row with a decreasing shot number is dropped.
func ExpandShotlist(entries []shot.Record, idField string, opts ExpandOptions) []shot.Record {
	var out []shot.Record
	acc := shot.Record{}
	var last int64
	continued := false

	for _, entry := range entries {
		if opts.ValidRow != nil && !opts.ValidRow(entry) {
			acc = shot.Record{}
		}
		sn, ok := shotNumber(entry[idField])

		switch {
		case !continued:
			if opts.ResetDiscontinued {
				acc = shot.Record{}
			}
			if ok {
				maps.Copy(acc, entry)
				out = append(out, maps.Clone(acc))
				last, continued = sn, true
			}
		case !ok:
			continued = false
		case sn < last:
			continued = false
		default:
			for n := last + 1; n < sn; n++ {
				acc[idField] = n
				out = append(out, maps.Clone(acc))
			}
			maps.Copy(acc, entry)
			out = append(out, maps.Clone(acc))
			last = sn
		}
	}
	return out
}

func shotNumber(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	n, err := shot.Int(v)
	if err != nil {
		return 0, false
	}
	return n.(int64), true
}
