package exp

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpHandler(t *testing.T) {
	var ticks int64 = 7
	Register("test", func() map[string]int64 {
		return map[string]int64{"ticks": ticks, "sleepers": 2}
	})
	defer Unregister("test")

	fetch := func() map[string]json.RawMessage {
		rec := httptest.NewRecorder()
		ExpHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/debug/metrics", nil))
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

		var vars map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vars))
		return vars
	}
	vars := fetch()
	assert.Equal(t, "7", string(vars["test/ticks"]))
	assert.Equal(t, "2", string(vars["test/sleepers"]))

	// Values are re-read on every request.
	ticks = 9
	vars = fetch()
	assert.Equal(t, "9", string(vars["test/ticks"]))
}

func TestExpMountsOnce(t *testing.T) {
	assert.NotPanics(t, func() {
		Exp()
		Exp()
	})
}
