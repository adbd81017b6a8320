package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ngas/ngas-cachecontrol/cache"
	"github.com/ngas/ngas-cachecontrol/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkfileServer struct {
	server *httptest.Server
	calls  int32
}

func newCheckfileServer(t *testing.T, status string) *checkfileServer {
	s := &checkfileServer{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.calls, 1)
		assert.Equal(t, "/CHECKFILE", r.URL.Path)
		assert.Equal(t, "file1", r.URL.Query().Get("file_id"))
		assert.Equal(t, "2", r.URL.Query().Get("file_version"))
		w.Write([]byte(`<NgamsStatus><Status Message="` + status + `: checked"/></NgamsStatus>`))
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *checkfileServer) node() string {
	return strings.TrimPrefix(s.server.URL, "http://")
}

func (s *checkfileServer) getCalls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func makeCheckfileEntry() *cache.Entry {
	return &cache.Entry{
		DiskID:      "disk1",
		FileID:      "file1",
		FileVersion: 2,
		Filename:    "data/file1.fits",
		CacheTime:   time.Now(),
	}
}

func TestCheckfilePolicy(t *testing.T) {
	t.Run("test AllSetsOK", testAllSetsOK)
	t.Run("test OneSetNotOK", testOneSetNotOK)
	t.Run("test AlternativeServerList", testAlternativeServerList)
	t.Run("test UnreachableNode", testUnreachableNode)
	t.Run("test CheckingPeriod", testCheckingPeriod)
	t.Run("test ParseNodes", testParseNodes)
}

func testAllSetsOK(t *testing.T) {
	s1 := newCheckfileServer(t, "NGAMS_INFO_FILE_OK")
	s2 := newCheckfileServer(t, "NGAMS_INFO_FILE_OK")

	policy, err := NewCheckfilePolicy(map[string]string{
		"nodes": s1.node() + "|" + s2.node(),
	})
	require.NoError(t, err)

	entry := makeCheckfileEntry()
	evict, err := policy.Evaluate(context.Background(), entry)
	assert.NoError(t, err)
	assert.True(t, evict)

	require.NotNil(t, entry.State)
	assert.Equal(t, CheckfilePolicyName, entry.State.Plugin)
	_, ok := entry.State.Get(CheckfileLastCheckAttribute)
	assert.True(t, ok)
}

func testOneSetNotOK(t *testing.T) {
	s1 := newCheckfileServer(t, "NGAMS_ER_FILE_NOK")
	s2 := newCheckfileServer(t, "NGAMS_INFO_FILE_OK")

	policy, err := NewCheckfilePolicy(map[string]string{
		"nodes": s1.node() + "|" + s2.node(),
	})
	require.NoError(t, err)

	evict, err := policy.Evaluate(context.Background(), makeCheckfileEntry())
	assert.NoError(t, err)
	assert.False(t, evict)

	// checking stops at the first set without a valid copy
	assert.Equal(t, 1, s1.getCalls())
	assert.Equal(t, 0, s2.getCalls())
}

func testAlternativeServerList(t *testing.T) {
	notOK := newCheckfileServer(t, "NGAMS_ER_FILE_NOK")
	ok := newCheckfileServer(t, "NGAMS_INFO_FILE_OK")
	other := newCheckfileServer(t, "NGAMS_INFO_FILE_OK")

	policy, err := NewCheckfilePolicy(map[string]string{
		"nodes": notOK.node() + "," + ok.node() + "|" + other.node(),
	})
	require.NoError(t, err)

	// lists are shuffled, the NOK list is asked at most once and never blocks the OK list
	for i := 0; i < 4; i++ {
		evict, err := policy.Evaluate(context.Background(), makeCheckfileEntry())
		assert.NoError(t, err)
		assert.True(t, evict)
	}

	assert.Equal(t, 4, ok.getCalls())
	assert.Equal(t, 4, other.getCalls())
	assert.LessOrEqual(t, notOK.getCalls(), 4)
}

func testUnreachableNode(t *testing.T) {
	s1 := newCheckfileServer(t, "NGAMS_INFO_FILE_OK")

	closed := httptest.NewServer(http.NotFoundHandler())
	closedNode := strings.TrimPrefix(closed.URL, "http://")
	closed.Close()

	policy, err := NewCheckfilePolicy(map[string]string{
		"nodes":   closedNode + ";" + s1.node(),
		"timeout": "5",
	})
	require.NoError(t, err)

	evict, err := policy.Evaluate(context.Background(), makeCheckfileEntry())
	assert.NoError(t, err)
	assert.True(t, evict)
	assert.Equal(t, 1, s1.getCalls())
}

func testCheckingPeriod(t *testing.T) {
	s1 := newCheckfileServer(t, "NGAMS_INFO_FILE_OK")

	policy, err := NewCheckfilePolicy(map[string]string{
		"nodes":           s1.node(),
		"checking_period": "3600",
	})
	require.NoError(t, err)

	now := time.Now()
	policy.(*CheckfilePolicy).now = func() time.Time { return now }

	entry := makeCheckfileEntry()

	// first visit only records the time
	evict, err := policy.Evaluate(context.Background(), entry)
	assert.NoError(t, err)
	assert.False(t, evict)
	assert.Equal(t, 0, s1.getCalls())

	v, ok := entry.State.Get(CheckfileLastCheckAttribute)
	require.True(t, ok)
	assert.Equal(t, utils.MakeTimeToString(now), v)

	// not due yet
	now = now.Add(30 * time.Minute)
	evict, err = policy.Evaluate(context.Background(), entry)
	assert.NoError(t, err)
	assert.False(t, evict)
	assert.Equal(t, 0, s1.getCalls())

	// due
	now = now.Add(time.Hour)
	evict, err = policy.Evaluate(context.Background(), entry)
	assert.NoError(t, err)
	assert.True(t, evict)
	assert.Equal(t, 1, s1.getCalls())
}

func testParseNodes(t *testing.T) {
	sets, err := parseNodeSets("h1:1;h2:2 , h4:4 | h3:3")
	assert.NoError(t, err)
	assert.Equal(t, [][][]string{{{"h1:1", "h2:2"}, {"h4:4"}}, {{"h3:3"}}}, sets)

	_, err = parseNodeSets("h1:1| , |h3:3")
	assert.Error(t, err)

	_, err = parseNodeSets("h1:1||h3:3")
	assert.Error(t, err)

	_, err = parseNodeSets("h1")
	assert.Error(t, err)

	_, err = NewCheckfilePolicy(map[string]string{})
	assert.Error(t, err)
}
