package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixture() []*Event {
	orgID := int64(42)
	userID := int64(7)
	return []*Event{
		{
			ID:             1,
			Timestamp:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			EventType:      EventTypeRoleCreate,
			Status:         StatusSuccess,
			UserID:         &userID,
			OrganizationID: &orgID,
			ResourceType:   ResourceRole,
			ResourceID:     "5",
		},
		{
			ID:        2,
			Timestamp: time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC),
			EventType: EventTypeAuthzDenied,
			Status:    StatusDenied,
			Message:   "no access to this project",
		},
	}
}

func TestExportJSON(t *testing.T) {
	data, err := exportJSON(exportFixture())
	require.NoError(t, err)

	var decoded []*Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, EventTypeRoleCreate, decoded[0].EventType)
	assert.Equal(t, StatusDenied, decoded[1].Status)
}

func TestExportNDJSON(t *testing.T) {
	data, err := exportNDJSON(exportFixture())
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, int64(1), first.ID)
	require.NotNil(t, first.OrganizationID)
	assert.Equal(t, int64(42), *first.OrganizationID)
}

func TestExportCSV(t *testing.T) {
	data, err := exportCSV(exportFixture())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + 2 rows

	assert.Equal(t, "ID", records[0][0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "role.created", records[1][2])
	assert.Equal(t, "7", records[1][4])
	// nil actor renders as empty cells, not "0"
	assert.Equal(t, "", records[2][4])
	assert.Equal(t, "", records[2][5])
}

func TestExportEmpty(t *testing.T) {
	data, err := exportNDJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, bytes.TrimSpace(data))

	data, err = exportCSV(nil)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1) // header only
}
