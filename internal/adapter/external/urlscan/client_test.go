package urlscan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monscodex/spot-and-block/internal/adapter/external/gateway"
	"github.com/monscodex/spot-and-block/internal/entity"
	"github.com/monscodex/spot-and-block/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.Handler, quota int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw := gateway.New(gateway.Config{BaseBackoff: time.Millisecond})
	return New(gw, ratelimit.NewCooldown(quota, time.Minute), Config{
		APIKey:           "test-key",
		BaseURL:          srv.URL,
		ScanTimeout:      24 * time.Hour,
		PollInitialDelay: time.Millisecond,
		PollInterval:     time.Millisecond,
		MaxPolls:         5,
	})
}

func reportJSON(scanDate time.Time) string {
	return fmt.Sprintf(`{
		"response_code": 1,
		"resource": "example.com",
		"positives": 2,
		"total": 70,
		"scan_date": %q,
		"scans": {
			"EngineA": {"detected": true, "result": "malware site"},
			"EngineB": {"detected": false, "result": "clean site"},
			"EngineC": {"detected": false, "result": "unrated site"},
			"EngineD": {"detected": false, "result": "suspicious site"}
		}
	}`, scanDate.UTC().Format(scanDateLayout))
}

func TestCompleteCheckFreshReportFiltersBenignVerdicts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/url/report", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "example.com", r.URL.Query().Get("resource"))
		fmt.Fprint(w, reportJSON(time.Now().Add(-time.Hour)))
	})

	client := newTestClient(t, mux, 10)
	scan, err := client.CompleteCheck(context.Background(), "example.com")

	require.NoError(t, err)
	require.NotNil(t, scan)
	assert.Equal(t, 2, scan.Positives)
	assert.Equal(t, 70, scan.Total)

	// Only the flagged engines survive the boundary.
	require.Len(t, scan.Verdicts, 2)
	assert.Equal(t, "malware site", scan.Verdicts["EngineA"].Result)
	assert.Equal(t, "suspicious site", scan.Verdicts["EngineD"].Result)
}

func TestCompleteCheckStaleReportTriggersRescanAndPoll(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/url/report", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("resource") {
		case "example.com":
			fmt.Fprint(w, reportJSON(time.Now().Add(-30*24*time.Hour)))
		case "scan-123":
			// Fresh results appear on the second poll.
			if polls.Add(1) < 2 {
				fmt.Fprint(w, reportJSON(time.Now().Add(-30*24*time.Hour)))
				return
			}
			fmt.Fprint(w, reportJSON(time.Now()))
		default:
			t.Errorf("unexpected resource %q", r.URL.Query().Get("resource"))
		}
	})
	mux.HandleFunc("/url/scan", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "example.com", r.PostForm.Get("url"))
		fmt.Fprint(w, `{"scan_id": "scan-123"}`)
	})

	client := newTestClient(t, mux, 10)
	scan, err := client.CompleteCheck(context.Background(), "example.com")

	require.NoError(t, err)
	require.NotNil(t, scan)
	assert.True(t, scan.Fresh(time.Now(), client.scanTimeout))
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestCompleteCheckQuotaDuringRescanKeepsStaleReport(t *testing.T) {
	staleDate := time.Now().Add(-30 * 24 * time.Hour)
	mux := http.NewServeMux()
	mux.HandleFunc("/url/report", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, reportJSON(staleDate))
	})

	// One admission: the initial report spends it, the rescan is refused.
	client := newTestClient(t, mux, 1)
	scan, err := client.CompleteCheck(context.Background(), "example.com")

	require.NoError(t, err)
	require.NotNil(t, scan)
	assert.WithinDuration(t, staleDate, scan.ScanDate, time.Second)
}

func TestCompleteCheckNeverAnalysedAndQuotaYieldsNothing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/url/report", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response_code": 0}`)
	})

	client := newTestClient(t, mux, 1)
	scan, err := client.CompleteCheck(context.Background(), "unknown.example")

	require.NoError(t, err)
	assert.Nil(t, scan)
}

func TestCompleteCheckNeverAnalysedRunsFirstScan(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/url/report", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("resource") == "scan-9" {
			fmt.Fprint(w, reportJSON(time.Now()))
			return
		}
		fmt.Fprint(w, `{"response_code": 0}`)
	})
	mux.HandleFunc("/url/scan", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"scan_id": "scan-9"}`)
	})

	client := newTestClient(t, mux, 10)
	scan, err := client.CompleteCheck(context.Background(), "brand-new.example")

	require.NoError(t, err)
	require.NotNil(t, scan)
	assert.Equal(t, 2, scan.Positives)
}

func TestCompleteCheckForbiddenKeyIsFatal(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}), 10)

	scan, err := client.CompleteCheck(context.Background(), "example.com")

	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrInvalidCredentials)
	assert.Nil(t, scan)
}

func TestCompleteCheckQuotaUpFrontPropagates(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the provider")
	}), 1)

	// Exhaust the window before the check runs.
	require.True(t, client.gw.limiter.TryAdmit())

	_, err := client.CompleteCheck(context.Background(), "example.com")
	assert.ErrorIs(t, err, entity.ErrQuotaExceeded)
}
