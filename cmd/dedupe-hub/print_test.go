package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/match"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

func init() {
	color.NoColor = true
}

func TestPrintSummary(t *testing.T) {
	listID := int64(100)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)

	summary := &match.Summary{
		Run: model.MatchRun{
			BatchID:     "batch-1",
			ListID:      &listID,
			StartedAt:   started,
			CompletedAt: &completed,
			Processed:   3,
			Automatic:   2,
			Errors:      1,
		},
		Items: []match.ItemSummary{
			{ItemID: 10, Status: model.ItemMatched, FacilityID: "BD2023001EXIST1", Stage: match.TypeExact},
			{ItemID: 11, Status: model.ItemErrorMatching, Stage: match.TypeNewFacility, Message: "no location"},
		},
	}

	var buf bytes.Buffer
	printSummary(&buf, summary, true)
	out := buf.String()

	assert.Contains(t, out, "Match run batch-1")
	assert.Contains(t, out, "List:           100")
	assert.Contains(t, out, "Duration:       1.5s")
	assert.Contains(t, out, "Matched:        2")
	assert.Contains(t, out, "Errors:         1")
	assert.Contains(t, out, "BD2023001EXIST1 [exact]")
	assert.Contains(t, out, "no location")

	buf.Reset()
	printSummary(&buf, summary, false)
	assert.NotContains(t, buf.String(), "BD2023001EXIST1")
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, gazetteer.Status{})
	assert.Contains(t, buf.String(), "not built")

	buf.Reset()
	printStatus(&buf, gazetteer.Status{Built: true, Records: 5, Facilities: 3, Versions: gazetteer.Versions{Facility: 7, Match: 9}})
	out := buf.String()
	assert.Contains(t, out, "Records:    5")
	assert.Contains(t, out, "facility=7 match=9")
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, s := range []string{"0", "-1", "x"} {
		_, err := parseID(s)
		assert.Error(t, err, s)
	}
}
