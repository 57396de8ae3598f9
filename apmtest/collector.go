package apmtest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	spanKey = "span"

	maxLineBytes = 10 * 1024 * 1024
	maxBodyBytes = 64 * 1024 * 1024
)

var ack = []byte("{}")

// IngestStats: итог разбора одной доставки.
type IngestStats struct {
	Accepted  int
	Dropped   int
	Malformed int
}

// Collector хранит принятые спаны в порядке поступления и отдаёт их тестам по индексу.
// Безопасен для одновременной записи из нескольких горутин; читатель ожидается один.
type Collector struct {
	mu      sync.Mutex
	cond    *sync.Cond
	records []Record

	lines   *prometheus.CounterVec
	pending prometheus.GaugeFunc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apmtest_ingested_lines_total",
				Help: "Lines received by the mock APM collector by outcome",
			},
			[]string{"outcome"},
		),
	}
	c.cond = sync.NewCond(&c.mu)
	c.pending = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "apmtest_pending_spans",
			Help: "Spans received and not yet removed",
		},
		func() float64 { return float64(c.Count()) },
	)

	return c
}

// Add добавляет запись в конец и будит ожидающих.
func (c *Collector) Add(rec Record) {
	c.mu.Lock()
	c.records = append(c.records, rec)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Count возвращает число принятых и ещё не извлечённых спанов.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.records)
}

// Reset удаляет все накопленные записи.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = nil
}

// GetAndRemove ждёт запись с индексом index не дольше timeout, удаляет её и возвращает.
// Последующие записи сдвигаются на одну позицию.
func (c *Collector) GetAndRemove(index int, timeout time.Duration) (Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return c.getAndRemove(ctx, index, timeout)
}

// GetAndRemoveContext: как GetAndRemove, но ожидание ограничено контекстом.
func (c *Collector) GetAndRemoveContext(ctx context.Context, index int) (Record, error) {
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	return c.getAndRemove(ctx, index, timeout)
}

func (c *Collector) getAndRemove(ctx context.Context, index int, timeout time.Duration) (Record, error) {
	if index < 0 {
		return Record{}, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	// Будим ожидающих под тем же мьютексом, иначе сигнал может потеряться между проверкой и Wait.
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.records) <= index && ctx.Err() == nil {
		c.cond.Wait()
	}

	if len(c.records) <= index {
		return Record{}, &TimeoutError{Index: index, Timeout: timeout, Err: ctx.Err()}
	}

	rec := c.records[index]
	c.records = slices.Delete(c.records, index, index+1)

	return rec, nil
}

// Ingest разбирает построчный JSON. Сохраняются только строки с корневым ключом "span";
// невалидные строки и прочие записи (metadata, metricset, transaction) отбрасываются.
func (c *Collector) Ingest(ctx context.Context, r io.Reader) (IngestStats, error) {
	var stats IngestStats

	log := clog.FromContext(ctx)

	lines := &lineSplitter{max: maxLineBytes}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(lines.split)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var root map[string]json.RawMessage
		if err := sonic.Unmarshal(line, &root); err != nil {
			log.Debugf("apmtest: dropping malformed line %q: %v", line, err)
			c.lines.WithLabelValues("malformed").Inc()
			stats.Malformed++
			continue
		}

		// {"span":null} сохраняется как запись "null": отбрасываются только строки без ключа.
		payload, ok := root[spanKey]
		if !ok || len(payload) == 0 {
			c.lines.WithLabelValues("dropped").Inc()
			stats.Dropped++
			continue
		}

		c.Add(NewRecord(bytes.Clone(payload)))
		c.lines.WithLabelValues("accepted").Inc()
		stats.Accepted++
	}

	if lines.oversized > 0 {
		log.Debugf("apmtest: dropping %d lines longer than %d bytes", lines.oversized, maxLineBytes)
		c.lines.WithLabelValues("malformed").Add(float64(lines.oversized))
		stats.Malformed += lines.oversized
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading events: %w", err)
	}

	return stats, nil
}

// ServeHTTP принимает доставку и всегда отвечает 200 с пустым объектом.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := c.Ingest(ctx, http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		clog.FromContext(ctx).Warnf("apmtest: incomplete delivery: %v", err)
	}

	clog.FromContext(ctx).With(
		"accepted", stats.Accepted,
		"dropped", stats.Dropped,
		"malformed", stats.Malformed,
	).Debug("apmtest: delivery processed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ack)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.lines.Describe(ch)
	c.pending.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lines.Collect(ch)
	c.pending.Collect(ch)
}

// lineSplitter делит поток по \r и \n. Строка, не уместившаяся в max байт,
// пропускается целиком до следующего разделителя и учитывается в oversized.
type lineSplitter struct {
	max       int
	skipping  bool
	oversized int
}

func (l *lineSplitter) split(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	i := bytes.IndexAny(data, "\r\n")

	if l.skipping {
		if i >= 0 {
			l.skipping = false
			return i + 1, nil, nil
		}
		return len(data), nil, nil
	}

	if i >= 0 {
		return i + 1, data[:i], nil
	}

	if len(data) >= l.max {
		l.skipping = true
		l.oversized++
		return len(data), nil, nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
