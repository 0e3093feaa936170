package datasource

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/postexperiment/internal/httputil"
	"github.com/banshee-data/postexperiment/internal/shot"
)

const labBookCSV = `Laser campaign 2018,,,
shot,energy,target,comment
1,2.5,Al,first
4,,Ti,
,,,broken row
7,3.0,,
5,9.9,Au,typo
`

func TestShotlogEntries(t *testing.T) {
	table, err := ParseCSV([]byte(labBookCSV))
	require.NoError(t, err)

	entries, err := ShotlogEntries(table, EntryOptions{Header: 1, RowStart: 2})
	require.NoError(t, err)
	want := []shot.Record{
		{"shot": "1", "energy": "2.5", "target": "Al", "comment": "first"},
		{"shot": "4", "target": "Ti"},
		{"comment": "broken row"},
		{"shot": "7", "energy": "3.0"},
		{"shot": "5", "energy": "9.9", "target": "Au", "comment": "typo"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	tail, err := ShotlogEntries(table, EntryOptions{Header: 1, RowStart: 2, RowEnd: -2})
	require.NoError(t, err)
	assert.Len(t, tail, 3)

	_, err = ShotlogEntries(table, EntryOptions{Header: 10})
	assert.Error(t, err)
}

func TestExpandShotlist_FillsGaps(t *testing.T) {
	entries := []shot.Record{
		{"shot": "1", "energy": "2.5", "target": "Al"},
		{"shot": "4", "target": "Ti"},
	}
	got := ExpandShotlist(entries, "shot", ExpandOptions{ResetDiscontinued: true})
	want := []shot.Record{
		{"shot": "1", "energy": "2.5", "target": "Al"},
		{"shot": int64(2), "energy": "2.5", "target": "Al"},
		{"shot": int64(3), "energy": "2.5", "target": "Al"},
		{"shot": "4", "energy": "2.5", "target": "Ti"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("expanded mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandShotlist_Interruptions(t *testing.T) {
	entries := []shot.Record{
		{"shot": "1", "energy": "2.5"},
		{"comment": "no shot number"},
		{"shot": "3", "target": "Ti"},
		{"shot": "2", "target": "Au"}, // decreasing: dropped
		{"shot": "6", "mode": "x"},
	}

	reset := ExpandShotlist(entries, "shot", ExpandOptions{ResetDiscontinued: true})
	wantReset := []shot.Record{
		{"shot": "1", "energy": "2.5"},
		{"shot": "3", "target": "Ti"},
		{"shot": "6", "mode": "x"},
	}
	if diff := cmp.Diff(wantReset, reset); diff != "" {
		t.Errorf("reset mismatch (-want +got):\n%s", diff)
	}

	keep := ExpandShotlist(entries, "shot", ExpandOptions{ResetDiscontinued: false})
	wantKeep := []shot.Record{
		{"shot": "1", "energy": "2.5"},
		{"shot": "3", "energy": "2.5", "target": "Ti"},
		{"shot": "6", "energy": "2.5", "target": "Ti", "mode": "x"},
	}
	if diff := cmp.Diff(wantKeep, keep); diff != "" {
		t.Errorf("keep mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandShotlist_ValidRow(t *testing.T) {
	entries := []shot.Record{
		{"shot": "1", "energy": "2.5"},
		{"shot": "2", "status": "aborted"},
		{"shot": "3"},
	}
	got := ExpandShotlist(entries, "shot", ExpandOptions{
		ValidRow: func(r shot.Record) bool { return r["status"] != "aborted" },
	})
	want := []shot.Record{
		{"shot": "1", "energy": "2.5"},
		{"shot": "2", "status": "aborted"},
		{"shot": "3", "status": "aborted"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLabBookSource_Records(t *testing.T) {
	const url = "https://docs.google.com/spreadsheets/d/xyz/export?format=csv"
	mock := httputil.NewMockHTTPClient()
	mock.AddRoute(url, http.StatusOK, labBookCSV)

	src := NewLabBookSource(mock, url, "shot")
	recs, err := src.Records(context.Background())
	require.NoError(t, err)

	// 1, 2, 3, 4 then the broken row interrupts; 7 starts afresh; 5 is dropped
	var shots []any
	for _, r := range recs {
		shots = append(shots, r["shot"])
	}
	assert.Equal(t, []any{"1", int64(2), int64(3), "4", "7"}, shots)
	assert.Equal(t, "Ti", recs[3]["target"])
	assert.Equal(t, "2.5", recs[3]["energy"])
	_, carried := recs[4]["target"]
	assert.False(t, carried)

	series := shot.NewSeries(shot.NewIDSpec(shot.IDField{Name: "shot", Convert: shot.Int}))
	series.AddSource("labbook", src)
	require.NoError(t, series.Load(context.Background()))
	assert.Equal(t, 5, series.Len())
}

func TestLabBookSource_HTTPError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusForbidden, "")

	src := NewLabBookSource(mock, "https://example.com/sheet.csv", "shot")
	_, err := src.Records(context.Background())
	require.Error(t, err)
	assert.True(t, httputil.IsStatus(err, http.StatusForbidden))
}
