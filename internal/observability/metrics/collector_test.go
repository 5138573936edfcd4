package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTracksActiveAdapter(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.Switched("ocr", "", "mock")
	c.Switched("ocr", "mock", "tesseract")
	c.Switched("ocr", "tesseract", "tesseract")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.switches.WithLabelValues("ocr", "mock", "tesseract")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.switches.WithLabelValues("ocr", "tesseract", "tesseract")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.active.WithLabelValues("ocr", "tesseract")))
}

func TestCollectorLoads(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.Loaded("ocr", "chandra", errors.New("missing"))
	c.FellBack("ocr", "chandra")
	c.Loaded("ocr", "mock", nil)
	c.CleanupFailed("search", "redis")
	c.Constructed("ocr", "mock", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.loads.WithLabelValues("ocr", "chandra", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loads.WithLabelValues("ocr", "mock", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("ocr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cleanupFailures.WithLabelValues("search", "redis")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.construct))
}

func TestInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	h := c.Instrument("switch", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/?fail=1", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("switch", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("switch", "POST", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpErrors.WithLabelValues("switch", "POST")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "indexao_http_request_duration_seconds")
}

func TestNewCollectorTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}
