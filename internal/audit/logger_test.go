package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/linksync/log"
)

func TestRecord_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	ctx := log.WithCorrelationID(context.Background(), "corr-7")
	Record(ctx, Event{
		Action:   ActionAgencyMerge,
		Target:   "a3",
		Affected: []string{"a1", "a2"},
		Details:  map[string]interface{}{"user_id": "u1"},
		Success:  false,
		Err:      errors.New("write conflict"),
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["stream"])
	assert.Equal(t, ActionAgencyMerge, line["action"])
	assert.Equal(t, "a3", line["target"])
	assert.Equal(t, []interface{}{"a1", "a2"}, line["affected"])
	assert.Equal(t, "u1", line["user_id"])
	assert.Equal(t, "corr-7", line["correlation_id"])
	assert.Equal(t, false, line["success"])
	assert.Equal(t, "write conflict", line["error"])
}
