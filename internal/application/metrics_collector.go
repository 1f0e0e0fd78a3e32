package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// MetricType is the exposition type of a metric family.
type MetricType string

const (
	CounterMetric MetricType = "counter"
	GaugeMetric   MetricType = "gauge"
)

var metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

type metricSeries struct {
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

type metricFamily struct {
	Name      string                   `json:"name"`
	Help      string                   `json:"help"`
	Type      MetricType               `json:"type"`
	LabelKeys []string                 `json:"label_keys"`
	Series    map[string]*metricSeries `json:"series"`
}

// MetricsCollector accumulates counters and gauges keyed by label set and renders them in
// the Prometheus text format. Every mutation rewrites the whole snapshot in the store, so
// concurrent writers from different processes are last-writer-wins.
type MetricsCollector struct {
	mu       sync.Mutex
	store    domain.Store
	families map[string]*metricFamily
}

// NewMetricsCollector creates a collector persisting into store. A nil store keeps metrics
// in memory only.
func NewMetricsCollector(store domain.Store) *MetricsCollector {
	return &MetricsCollector{store: store, families: make(map[string]*metricFamily)}
}

// Describe registers help text and type for name. Describing an existing metric only
// updates its help text.
func (m *MetricsCollector) Describe(name, help string, typ MetricType) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.families[name]; ok {
		f.Help = help
		return
	}
	m.families[name] = &metricFamily{Name: name, Help: help, Type: typ, Series: map[string]*metricSeries{}}
}

// Increment adds value to the series identified by name and labels.
func (m *MetricsCollector) Increment(ctx context.Context, name string, labels map[string]string, value float64) error {
	if m == nil {
		return nil
	}
	return m.mutate(ctx, name, labels, CounterMetric, func(s *metricSeries, f *metricFamily) error {
		if f.Type == CounterMetric && value < 0 {
			return fmt.Errorf("%w: counter %s cannot decrease", ErrInvalidMetric, name)
		}
		s.Value += value
		return nil
	})
}

// SetGauge overwrites the value of a gauge series.
func (m *MetricsCollector) SetGauge(ctx context.Context, name string, labels map[string]string, value float64) error {
	if m == nil {
		return nil
	}
	return m.mutate(ctx, name, labels, GaugeMetric, func(s *metricSeries, f *metricFamily) error {
		if f.Type != GaugeMetric {
			return fmt.Errorf("%w: %s is a %s", ErrInvalidMetric, name, f.Type)
		}
		s.Value = value
		return nil
	})
}

func (m *MetricsCollector) mutate(ctx context.Context, name string, labels map[string]string, typ MetricType, apply func(*metricSeries, *metricFamily) error) error {
	if !metricNameRE.MatchString(name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidMetric, name)
	}
	keys := sortedKeys(labels)

	m.mu.Lock()
	f, ok := m.families[name]
	if !ok {
		f = &metricFamily{Name: name, Help: name, Type: typ, Series: map[string]*metricSeries{}}
		m.families[name] = f
	}
	if f.LabelKeys == nil {
		f.LabelKeys = keys
	} else if !equalKeys(f.LabelKeys, keys) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s expects %v, got %v", ErrLabelMismatch, name, f.LabelKeys, keys)
	}
	id := seriesID(labels, keys)
	s, ok := f.Series[id]
	if !ok {
		s = &metricSeries{Labels: copyLabels(labels)}
	}
	if err := apply(s, f); err != nil {
		m.mu.Unlock()
		return err
	}
	f.Series[id] = s
	snapshot, err := json.Marshal(m.families)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.persist(ctx, snapshot)
}

func (m *MetricsCollector) persist(ctx context.Context, snapshot []byte) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Set(ctx, metricsSnapshotKey, string(snapshot), 0); err != nil {
		utils.Logger.Error("persist metrics snapshot failed", "err", err)
		return err
	}
	return nil
}

// Load replaces the in-memory state with the snapshot persisted in the store.
func (m *MetricsCollector) Load(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	raw, ok, err := m.store.Get(ctx, metricsSnapshotKey)
	if err != nil || !ok {
		return err
	}
	families := map[string]*metricFamily{}
	if err := json.Unmarshal([]byte(raw), &families); err != nil {
		return fmt.Errorf("decode metrics snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, f := range families {
		if f.Series == nil {
			f.Series = map[string]*metricSeries{}
		}
		if cur, ok := m.families[name]; ok {
			f.Help, f.Type = cur.Help, cur.Type
		}
		m.families[name] = f
	}
	return nil
}

// Value returns the current value of one series, zero when unknown.
func (m *MetricsCollector) Value(name string, labels map[string]string) float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.families[name]
	if !ok {
		return 0
	}
	s, ok := f.Series[seriesID(labels, sortedKeys(labels))]
	if !ok {
		return 0
	}
	return s.Value
}

// Snapshot flattens every series into `name{k="v",...}` keys.
func (m *MetricsCollector) Snapshot() map[string]float64 {
	out := map[string]float64{}
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, f := range m.families {
		for _, s := range f.Series {
			out[name+formatLabels(s.Labels, f.LabelKeys)] = s.Value
		}
	}
	return out
}

// Export renders every metric in the Prometheus text exposition format.
func (m *MetricsCollector) Export() (string, error) {
	if m == nil {
		return "", nil
	}
	m.mu.Lock()
	families := make([]*dto.MetricFamily, 0, len(m.families))
	names := make([]string, 0, len(m.families))
	for name := range m.families {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		families = append(families, toDTO(m.families[name]))
	}
	m.mu.Unlock()

	var buf bytes.Buffer
	for _, mf := range families {
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("render %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

func toDTO(f *metricFamily) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(f.Name),
		Help: proto.String(f.Help),
	}
	if f.Type == GaugeMetric {
		mf.Type = dto.MetricType_GAUGE.Enum()
	} else {
		mf.Type = dto.MetricType_COUNTER.Enum()
	}
	ids := make([]string, 0, len(f.Series))
	for id := range f.Series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := f.Series[id]
		metric := &dto.Metric{}
		for _, k := range f.LabelKeys {
			metric.Label = append(metric.Label, &dto.LabelPair{Name: proto.String(k), Value: proto.String(s.Labels[k])})
		}
		if f.Type == GaugeMetric {
			metric.Gauge = &dto.Gauge{Value: proto.Float64(s.Value)}
		} else {
			metric.Counter = &dto.Counter{Value: proto.Float64(s.Value)}
		}
		mf.Metric = append(mf.Metric, metric)
	}
	return mf
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seriesID(labels map[string]string, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.Quote(labels[k])
	}
	return strings.Join(parts, ",")
}

func formatLabels(labels map[string]string, keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
