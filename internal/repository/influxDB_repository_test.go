package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"Evergreen.telemetry/internal/models"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPointTagsReadingID(t *testing.T) {
	p := buildPoint(models.StoredReading{
		ID:        "r-1",
		Seq:       42,
		BasinID:   "basin-03",
		Timestamp: base,
		Fields: models.Fields{
			"airTemp": models.NumberValue(21.5),
			"status":  models.StringValue("ok"),
		},
	})

	line := write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, "reading,basin_id=basin-03,reading_id=r-1 ")
	assert.Contains(t, line, "n.airTemp=21.5")
	assert.Contains(t, line, `s.status="ok"`)
	assert.Contains(t, line, "evg.seq=42i")
}

func TestBuildPointSeparatesChannelKinds(t *testing.T) {
	num := write.PointToLineProtocol(buildPoint(models.StoredReading{
		ID: "r-1", BasinID: "basin-03", Timestamp: base,
		Fields: models.Fields{"soilPH": models.NumberValue(6.5)},
	}), time.Nanosecond)
	str := write.PointToLineProtocol(buildPoint(models.StoredReading{
		ID: "r-2", BasinID: "basin-03", Timestamp: base,
		Fields: models.Fields{"soilPH": models.StringValue("6.52")},
	}), time.Nanosecond)

	assert.Contains(t, num, "n.soilPH=6.5")
	assert.Contains(t, str, `s.soilPH="6.52"`)
	assert.NotContains(t, str, "n.soilPH")
}

func TestBuildReadingsQuery(t *testing.T) {
	latest := buildReadingsQuery("telemetry", Query{BasinID: "basin-03", Limit: 1}, nil, 1)
	assert.Contains(t, latest, `from(bucket: "telemetry")`)
	assert.Contains(t, latest, `r.basin_id == "basin-03"`)
	assert.Contains(t, latest, `desc: true`)
	assert.Contains(t, latest, `limit(n: 1)`)
	assert.Contains(t, latest, "range(start: 1677-09-21T00:12:43.145224192Z, stop: 2262-04-11T23:47:16.854775807Z)")

	ranged := buildReadingsQuery("telemetry", Query{
		BasinID: "basin-03",
		Range:   &TimeRange{From: base, To: base.Add(time.Hour)},
	}, nil, DefaultPageSize)
	assert.Contains(t, ranged, "range(start: 2024-01-01T00:00:00Z, stop: 2024-01-01T01:00:00.000000001Z)")
	assert.Contains(t, ranged, `desc: false`)
	assert.Contains(t, ranged, "limit(n: 500)")
	assert.NotContains(t, ranged, "r._time >")

	far := buildReadingsQuery("telemetry", Query{
		BasinID: "basin-03",
		Range:   &TimeRange{From: base, To: time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)},
	}, nil, 10)
	assert.Contains(t, far, "stop: 2262-04-11T23:47:16.854775807Z)")
}

func TestBuildReadingsQueryContinuesAfterCursor(t *testing.T) {
	cursor := &models.StoredReading{Timestamp: base.Add(time.Minute), Seq: 9}

	asc := buildReadingsQuery("telemetry", Query{
		BasinID: "basin-03",
		Range:   &TimeRange{From: base, To: base.Add(time.Hour)},
	}, cursor, 3)
	assert.Contains(t, asc, "range(start: 2024-01-01T00:01:00Z, stop: 2024-01-01T01:00:00.000000001Z)")
	assert.Contains(t, asc, `filter(fn: (r) => r._time > 2024-01-01T00:01:00Z or (r._time == 2024-01-01T00:01:00Z and r["evg.seq"] > 9))`)
	assert.Contains(t, asc, "limit(n: 3)")

	desc := buildReadingsQuery("telemetry", Query{BasinID: "basin-03"}, cursor, 3)
	assert.Contains(t, desc, "stop: 2024-01-01T00:01:00.000000001Z)")
	assert.Contains(t, desc, `filter(fn: (r) => r._time < 2024-01-01T00:01:00Z or (r._time == 2024-01-01T00:01:00Z and r["evg.seq"] < 9))`)
	assert.Contains(t, desc, `desc: true`)

	// the cursor filter needs the pivoted evg.seq column
	assert.Less(t, strings.Index(asc, "pivot("), strings.Index(asc, "r._time >"))
}

func TestFluxStringEscapes(t *testing.T) {
	assert.Equal(t, `"a\"b\\c\${x}"`, fluxString(`a"b\c${x}`))
}

func TestDecodeRecord(t *testing.T) {
	r, err := decodeRecord(map[string]interface{}{
		"result":       "_result",
		"table":        int64(0),
		"_start":       base,
		"_stop":        base,
		"_time":        base,
		"_measurement": "reading",
		"basin_id":     "basin-03",
		"reading_id":   "r-1",
		"evg.seq":      int64(7),
		"n.airTemp":    21.5,
		"n.co2Level":   int64(410),
		"s.status":     "ok",
		"n.soilPH":     nil,
		"s.soilPH":     "6.52",
		"legacyLux":    int64(300),
	})
	require.NoError(t, err)

	assert.Equal(t, "r-1", r.ID)
	assert.Equal(t, int64(7), r.Seq)
	assert.Equal(t, "basin-03", r.BasinID)
	assert.Equal(t, base, r.Timestamp)
	assert.Equal(t, models.Fields{
		"airTemp":   models.NumberValue(21.5),
		"co2Level":  models.NumberValue(410),
		"status":    models.StringValue("ok"),
		"soilPH":    models.StringValue("6.52"),
		"legacyLux": models.NumberValue(300),
	}, r.Fields)
}

func TestDecodeRecordRequiresTime(t *testing.T) {
	_, err := decodeRecord(map[string]interface{}{"basin_id": "basin-03"})
	assert.Error(t, err)
}

// queryPages answers each /api/v2/query call with the next page of
// annotated CSV, taking delay per round trip.
func queryPages(t *testing.T, delay time.Duration, pages ...[]int64) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		n := len(queries)
		queries = append(queries, body.Query)
		mu.Unlock()

		time.Sleep(delay)
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		fmt.Fprint(w, "#datatype,string,long,dateTime:RFC3339,string,string,long,double\n")
		fmt.Fprint(w, "#group,false,false,false,false,false,false,false\n")
		fmt.Fprint(w, "#default,_result,,,,,,\n")
		fmt.Fprint(w, ",result,table,_time,basin_id,reading_id,evg.seq,n.airTemp\n")
		if n < len(pages) {
			for _, seq := range pages[n] {
				fmt.Fprintf(w, ",,0,%s,basin-03,r-%d,%d,%d\n",
					base.Add(time.Duration(seq)*time.Minute).Format(time.RFC3339), seq, seq, seq)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), queries...)
	}
}

func TestInfluxQueryByBasinPages(t *testing.T) {
	srv, queries := queryPages(t, 0, []int64{5, 4}, []int64{3, 2}, []int64{1})
	repo := NewInfluxDBRepository(srv.URL, "token", "evergreen", "telemetry", time.Second, zerolog.Nop())
	defer repo.Close()
	repo.pageSize = 2

	got, err := Collect(repo.QueryByBasin(context.Background(), Query{BasinID: "basin-03"}))
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, int64(5-i), r.Seq)
		assert.Equal(t, models.NumberValue(float64(5-i)), r.Fields["airTemp"])
	}

	sent := queries()
	require.Len(t, sent, 3)
	assert.NotContains(t, sent[0], `r["evg.seq"] <`)
	assert.Contains(t, sent[1], `r["evg.seq"] < 4`)
	assert.Contains(t, sent[2], `r["evg.seq"] < 2`)
	for _, q := range sent {
		assert.Contains(t, q, "limit(n: 2)")
	}
}

func TestInfluxQueryByBasinStopsAtLimit(t *testing.T) {
	srv, queries := queryPages(t, 0, []int64{5, 4}, []int64{3})
	repo := NewInfluxDBRepository(srv.URL, "token", "evergreen", "telemetry", time.Second, zerolog.Nop())
	defer repo.Close()
	repo.pageSize = 2

	got, err := Collect(repo.QueryByBasin(context.Background(), Query{BasinID: "basin-03", Limit: 3}))
	require.NoError(t, err)
	require.Len(t, got, 3)

	sent := queries()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1], "limit(n: 1)")
}

func TestInfluxTimeoutAppliesPerPage(t *testing.T) {
	// every round trip fits the timeout, the whole stream does not
	srv, queries := queryPages(t, 120*time.Millisecond, []int64{6, 5}, []int64{4, 3}, []int64{2, 1}, nil)
	repo := NewInfluxDBRepository(srv.URL, "token", "evergreen", "telemetry", 300*time.Millisecond, zerolog.Nop())
	defer repo.Close()
	repo.pageSize = 2

	got, err := Collect(repo.QueryByBasin(context.Background(), Query{BasinID: "basin-03"}))
	require.NoError(t, err)
	assert.Len(t, got, 6)
	assert.Len(t, queries(), 4)
}
