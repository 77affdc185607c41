package repository

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"Evergreen.telemetry/internal/models"
	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

const (
	measurement = "reading"
	tagBasinID  = "basin_id"
	tagReading  = "reading_id"
	// Internal field holding the insertion sequence. The dot keeps it out of
	// the channel namespace below.
	fieldSeq = "evg.seq"

	// A field's type is fixed per shard, so channels are stored under a key
	// that carries their kind. "airTemp" becomes "n.airTemp" or "s.airTemp".
	numberPrefix = "n."
	stringPrefix = "s."
)

// InfluxDBRepository stores each reading as one point. The reading id is a
// tag so two readings with the same basin and timestamp stay distinct series
// instead of overwriting each other.
type InfluxDBRepository struct {
	client   influxdb2.Client
	org      string
	bucket   string
	timeout  time.Duration
	pageSize int
	logger   zerolog.Logger

	lastSeq atomic.Int64
}

// NewInfluxDBRepository creates a new InfluxDBRepository.
func NewInfluxDBRepository(url, token, org, bucket string, timeout time.Duration, logger zerolog.Logger) *InfluxDBRepository {
	client := influxdb2.NewClient(url, token)
	return &InfluxDBRepository{
		client:   client,
		org:      org,
		bucket:   bucket,
		timeout:  timeout,
		pageSize: DefaultPageSize,
		logger:   logger.With().Str("component", "influxdb").Logger(),
	}
}

// Ping checks the server health.
func (r *InfluxDBRepository) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	health, err := r.client.Health(ctx)
	if err != nil {
		return unavailable(ctx, "influxdb health", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %w: %s", models.ErrStorageUnavailable, msg)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (r *InfluxDBRepository) EnsureBucket(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	bucketsAPI := r.client.BucketsAPI()
	if _, err := bucketsAPI.FindBucketByName(ctx, r.bucket); err == nil {
		return nil
	}

	org, err := r.client.OrganizationsAPI().FindOrganizationByName(ctx, r.org)
	if err != nil {
		return unavailable(ctx, fmt.Sprintf("find organization %q", r.org), err)
	}
	if _, err := bucketsAPI.CreateBucketWithName(ctx, org, r.bucket); err != nil {
		return unavailable(ctx, fmt.Sprintf("create bucket %q", r.bucket), err)
	}
	r.logger.Info().Str("bucket", r.bucket).Msg("bucket created")
	return nil
}

// nextSeq hands out strictly increasing sequence numbers seeded from the clock.
func (r *InfluxDBRepository) nextSeq() int64 {
	for {
		last := r.lastSeq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if r.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (r *InfluxDBRepository) Append(ctx context.Context, reading models.Reading) (models.StoredReading, error) {
	stored := models.StoredReading{
		ID:        uuid.NewString(),
		Seq:       r.nextSeq(),
		BasinID:   reading.BasinID,
		Timestamp: reading.Timestamp.UTC(),
		Fields:    copyFields(reading.Fields),
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	writeAPI := r.client.WriteAPIBlocking(r.org, r.bucket)
	if err := writeAPI.WritePoint(ctx, buildPoint(stored)); err != nil {
		return models.StoredReading{}, unavailable(ctx, "write point", err)
	}
	r.logger.Debug().Str("basin_id", stored.BasinID).Str("reading_id", stored.ID).Msg("point written")
	return stored, nil
}

func buildPoint(r models.StoredReading) *write.Point {
	fields := make(map[string]interface{}, len(r.Fields)+1)
	for k, v := range r.Fields {
		fields[fieldKey(k, v)] = v.Interface()
	}
	fields[fieldSeq] = r.Seq

	return influxdb2.NewPoint(
		measurement,
		map[string]string{tagBasinID: r.BasinID, tagReading: r.ID},
		fields,
		r.Timestamp,
	)
}

func fieldKey(channel string, v models.Value) string {
	if v.Kind == models.KindString {
		return stringPrefix + channel
	}
	return numberPrefix + channel
}

// QueryByBasin pages through the readings so the timeout bounds each round
// trip rather than the whole stream.
func (r *InfluxDBRepository) QueryByBasin(ctx context.Context, q Query) iter.Seq2[models.StoredReading, error] {
	return func(yield func(models.StoredReading, error) bool) {
		var cursor *models.StoredReading
		emitted := 0
		for {
			size := r.pageSize
			if q.Limit > 0 && q.Limit-emitted < size {
				size = q.Limit - emitted
			}

			rows, err := r.page(ctx, q, cursor, size)
			if err != nil {
				yield(models.StoredReading{}, err)
				return
			}
			for _, row := range rows {
				if !yield(row, nil) {
					return
				}
			}
			emitted += len(rows)
			if len(rows) < size || (q.Limit > 0 && emitted >= q.Limit) {
				return
			}
			cursor = &rows[len(rows)-1]
		}
	}
}

func (r *InfluxDBRepository) page(ctx context.Context, q Query, cursor *models.StoredReading, size int) ([]models.StoredReading, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	flux := buildReadingsQuery(r.bucket, q, cursor, size)
	result, err := r.client.QueryAPI(r.org).Query(ctx, flux)
	if err != nil {
		r.logger.Error().Err(err).Str("query", flux).Msg("query failed")
		return nil, unavailable(ctx, "query readings", err)
	}
	defer result.Close()

	rows := make([]models.StoredReading, 0, size)
	for result.Next() {
		reading, err := decodeRecord(result.Record().Values())
		if err != nil {
			return nil, err
		}
		rows = append(rows, reading)
	}
	if result.Err() != nil {
		return nil, unavailable(ctx, "read query result", result.Err())
	}
	return rows, nil
}

func (r *InfluxDBRepository) Latest(ctx context.Context, basinID string) (models.StoredReading, bool, error) {
	for reading, err := range r.QueryByBasin(ctx, Query{BasinID: basinID, Limit: 1}) {
		if err != nil {
			return models.StoredReading{}, false, err
		}
		return reading, true, nil
	}
	return models.StoredReading{}, false, nil
}

func (r *InfluxDBRepository) BasinIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	flux := fmt.Sprintf(`import "influxdata/influxdb/schema"
schema.tagValues(bucket: %s, tag: %s, predicate: (r) => r._measurement == %s, start: %s)`,
		fluxString(r.bucket), fluxString(tagBasinID), fluxString(measurement), fluxTime(minUnixNano))

	result, err := r.client.QueryAPI(r.org).Query(ctx, flux)
	if err != nil {
		return nil, unavailable(ctx, "query basin ids", err)
	}
	defer result.Close()

	var ids []string
	for result.Next() {
		if id, ok := result.Record().Value().(string); ok {
			ids = append(ids, id)
		}
	}
	if result.Err() != nil {
		return nil, unavailable(ctx, "read basin ids", result.Err())
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *InfluxDBRepository) Count(ctx context.Context, basinID string) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	flux := fmt.Sprintf(`from(bucket: %s)
	|> range(start: %s)
	|> filter(fn: (r) => r._measurement == %s and r.%s == %s and r._field == %s)
	|> group()
	|> count()`,
		fluxString(r.bucket), fluxTime(minUnixNano), fluxString(measurement), tagBasinID, fluxString(basinID), fluxString(fieldSeq))

	result, err := r.client.QueryAPI(r.org).Query(ctx, flux)
	if err != nil {
		return 0, unavailable(ctx, "count readings", err)
	}
	defer result.Close()

	n := 0
	for result.Next() {
		if v, ok := result.Record().Value().(int64); ok {
			n += int(v)
		}
	}
	if result.Err() != nil {
		return 0, unavailable(ctx, "read count", result.Err())
	}
	return n, nil
}

func (r *InfluxDBRepository) Close() error {
	r.client.Close()
	return nil
}

// buildReadingsQuery pivots the per-field rows back into one row per reading
// and returns at most size of them, continuing after cursor when it is set.
func buildReadingsQuery(bucket string, q Query, cursor *models.StoredReading, size int) string {
	start, stop := minUnixNano, maxUnixNano
	ascending := q.Range != nil
	if ascending {
		start = q.Range.From
		// range() excludes stop; the resolver interval is closed.
		stop = q.Range.To.Add(time.Nanosecond)
	}
	if cursor != nil {
		if ascending {
			start = cursor.Timestamp
		} else {
			stop = cursor.Timestamp.Add(time.Nanosecond)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "\t|> range(start: %s, stop: %s)\n", fluxTime(start), fluxTime(stop))
	fmt.Fprintf(&b, "\t|> filter(fn: (r) => r._measurement == %s and r.%s == %s)\n",
		fluxString(measurement), tagBasinID, fluxString(q.BasinID))
	b.WriteString("\t|> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	if cursor != nil {
		op := "<"
		if ascending {
			op = ">"
		}
		at := fluxTime(cursor.Timestamp)
		fmt.Fprintf(&b, "\t|> filter(fn: (r) => r._time %s %s or (r._time == %s and r[%s] %s %d))\n",
			op, at, at, fluxString(fieldSeq), op, cursor.Seq)
	}
	b.WriteString("\t|> group()\n")
	fmt.Fprintf(&b, "\t|> sort(columns: [\"_time\", %s], desc: %t)\n", fluxString(fieldSeq), !ascending)
	fmt.Fprintf(&b, "\t|> limit(n: %d)", size)
	return b.String()
}

// fluxTime renders t as a Flux time literal, saturated to what the engine
// can represent.
func fluxTime(t time.Time) string {
	return time.Unix(0, unixNano(t)).UTC().Format(time.RFC3339Nano)
}

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `${`, `\${`)

func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}

// Columns added by Flux itself rather than by a reading.
var fluxColumns = map[string]bool{
	"result": true, "table": true, "_start": true, "_stop": true,
	"_time": true, "_measurement": true, tagBasinID: true, tagReading: true, fieldSeq: true,
}

func decodeRecord(values map[string]interface{}) (models.StoredReading, error) {
	ts, ok := values["_time"].(time.Time)
	if !ok {
		return models.StoredReading{}, fmt.Errorf("record without _time: %w", models.ErrStorageUnavailable)
	}
	r := models.StoredReading{
		Timestamp: ts.UTC(),
		Fields:    models.Fields{},
	}
	r.BasinID, _ = values[tagBasinID].(string)
	r.ID, _ = values[tagReading].(string)
	switch seq := values[fieldSeq].(type) {
	case int64:
		r.Seq = seq
	case float64:
		r.Seq = int64(seq)
	}

	for k, v := range values {
		if fluxColumns[k] || v == nil {
			continue
		}
		channel, kind := splitFieldKey(k)
		if channel == "" {
			continue
		}
		switch val := v.(type) {
		case float64:
			r.Fields[channel] = models.NumberValue(val)
		case int64:
			r.Fields[channel] = models.NumberValue(float64(val))
		case uint64:
			r.Fields[channel] = models.NumberValue(float64(val))
		case string:
			if kind == models.KindNumber {
				continue
			}
			r.Fields[channel] = models.StringValue(val)
		case bool:
			r.Fields[channel] = models.StringValue(fmt.Sprint(val))
		}
	}
	return r, nil
}

// splitFieldKey strips the kind prefix from a stored field key. Keys
// without a prefix come from points written before channels were
// namespaced and are decoded by their value type.
func splitFieldKey(key string) (string, models.ValueKind) {
	if channel, ok := strings.CutPrefix(key, numberPrefix); ok {
		return channel, models.KindNumber
	}
	if channel, ok := strings.CutPrefix(key, stringPrefix); ok {
		return channel, models.KindString
	}
	return key, 0
}

var _ Repository = (*InfluxDBRepository)(nil)
