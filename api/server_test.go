package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/SynergyChain/synledger-core/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	ledger   *core.Ledger
	registry *core.Registry
	server   *Server
	url      string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ledger, err := core.NewLedger(3, core.DefaultCrypto)
	require.NoError(t, err)
	f := &fixture{
		ledger:   ledger,
		registry: core.NewRegistry(10),
	}
	f.server = NewServer(f.ledger, f.registry, opts...)
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(func() {
		f.server.Close()
		srv.Close()
	})
	f.url = srv.URL
	return f
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestChainAndValidate(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	var chain []map[string]any
	require.Equal(http.StatusOK, get(t, f.url+"/chain", &chain))
	require.Len(chain, 1)
	require.Equal(float64(0), chain[0]["blockNumber"])
	require.Equal(f.ledger.TipHash(), chain[0]["blockHash"])

	var valid map[string]bool
	require.Equal(http.StatusOK, get(t, f.url+"/validate", &valid))
	require.True(valid["valid"])

	var forks []core.ForkInfo
	require.Equal(http.StatusOK, get(t, f.url+"/forks", &forks))
	require.Empty(forks)
}

func TestStats(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.ledger.AddForkBlock("tip", core.NewBlock(1, "x", 2, core.DefaultCrypto))

	var stats StatsResponse
	require.Equal(http.StatusOK, get(t, f.url+"/stats", &stats))
	require.Equal(10, stats.Registry.HonestCount)
	require.InDelta(100.0, stats.Registry.MeanSynergy, 1e-9)
	require.Equal(ChainStatus{Length: 1, Height: 0, Tip: f.ledger.TipHash(), Difficulty: 3, Forks: 1}, stats.Chain)
	require.InDelta(0.1, stats.Parameters.ConversionRate, 1e-9)
	require.InDelta(0.1005, stats.EffectiveConversionRate, 1e-9)
}

func TestParticipant(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "known", path: "/participants/3", status: http.StatusOK},
		{name: "out of range", path: "/participants/10", status: http.StatusNotFound},
		{name: "negative", path: "/participants/-1", status: http.StatusNotFound},
		{name: "not a number", path: "/participants/abc", status: http.StatusBadRequest},
	}
	f := newFixture(t)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var body map[string]any
			require.Equal(t, test.status, get(t, f.url+test.path, &body))
			if test.status == http.StatusOK {
				require.Equal(t, float64(3), body["id"])
				require.Equal(t, float64(100), body["synergy"])
				// activity 1 of 10 everywhere raises the 0.1 rate by 0.5%.
				require.InDelta(t, 0.1005, body["conversionRate"], 1e-9)
				require.InDelta(t, 10.05, body["tokenValue"], 1e-9)
				require.InDelta(t, 101.0, body["projectedSynergy"], 1e-9)
			} else {
				require.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	require := require.New(t)
	reg := prometheus.NewRegistry()
	m, err := core.NewMetrics(reg)
	require.NoError(err)
	ledger, err := core.NewLedger(3, core.DefaultCrypto, core.WithLedgerMetrics(m))
	require.NoError(err)

	s := NewServer(ledger, core.NewRegistry(1), WithGatherer(reg))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Contains(string(body), "synledger_chain_height 0")
}

func TestMetricsNotServedWithoutGatherer(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusNotFound, get(t, f.url+"/metrics", nil))
}

func TestRateLimit(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, WithRateLimit(rate.Every(time.Hour), 2))

	require.Equal(http.StatusOK, get(t, f.url+"/validate", nil))
	require.Equal(http.StatusOK, get(t, f.url+"/validate", nil))
	var body map[string]string
	require.Equal(http.StatusTooManyRequests, get(t, f.url+"/validate", &body))
	require.Equal("rate limit exceeded", body["error"])
}

func TestEvents(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws"+strings.TrimPrefix(f.url, "http")+"/events", nil)
	require.NoError(err)
	defer conn.Close()
	require.Eventually(func() bool { return f.server.events.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	block := core.NewBlock(1, f.ledger.TipHash(), 2, core.DefaultCrypto)
	f.server.Publish(&core.Round{State: core.Finalized, Block: block, Signatures: 2})

	require.NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	var event map[string]any
	require.NoError(conn.ReadJSON(&event))
	require.Equal("finalized", event["state"])
	require.Equal(block.Hash(), event["blockHash"])
	require.Equal(float64(2), event["signatures"])

	f.server.Close()
	_, _, err = conn.ReadMessage()
	require.True(websocket.IsCloseError(err, websocket.CloseNormalClosure))
	require.Zero(f.server.events.count())
}
