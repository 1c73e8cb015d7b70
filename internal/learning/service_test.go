package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"sql-guard/internal/classifier"
	"sql-guard/internal/model"
	"sql-guard/internal/patterns"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T, clock *fakeClock, opts ...Option) *Service {
	t.Helper()
	return New(DefaultConfig(), append([]Option{WithClock(clock.Now)}, opts...)...)
}

func fieldError(column string) *model.SQLError {
	return &model.SQLError{
		ErrorType:    model.ErrFieldMissing,
		ErrorMessage: "Unknown column '" + column + "' in 'field list'",
		SQLStatement: "SELECT " + column + " FROM customers",
	}
}

func tableError(table string) *model.SQLError {
	return &model.SQLError{
		ErrorType:    model.ErrTableMissing,
		ErrorMessage: "Table 'shop." + table + "' doesn't exist",
		SQLStatement: "SELECT * FROM " + table,
	}
}

func TestRecordError_Reinforces(t *testing.T) {
	clock := newFakeClock()
	svc := newService(t, clock)

	first, err := svc.RecordError("s1", fieldError("emial"), Context{Question: "customer emails"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Frequency)
	assert.InDelta(t, 0.3, first.Confidence, 1e-9)
	assert.Equal(t, model.ErrFieldMissing, first.ErrorType)
	assert.Equal(t, "Unknown column '<IDENTIFIER>' in '<IDENTIFIER>'", first.Signature)

	clock.Advance(time.Minute)
	_, err = svc.RecordError("s1", fieldError("nmae"), Context{Question: "customer names"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	third, err := svc.RecordError("s2", fieldError("adress"), Context{})
	require.NoError(t, err)

	assert.Equal(t, first.PatternID, third.PatternID)
	assert.Equal(t, 3, third.Frequency)
	assert.GreaterOrEqual(t, third.Confidence, first.Confidence)
	assert.Equal(t, first.CreatedAt, third.CreatedAt)
	assert.Equal(t, clock.Now(), third.LastSeen)
	assert.Contains(t, third.ContextKeywords, "emails")
	assert.Contains(t, third.ContextKeywords, "names")
	assert.Contains(t, third.ContextKeywords, "adress", "keywords fall back to the failed SQL")
	assert.Contains(t, third.ContextKeywords, "customers")
	assert.IsIncreasing(t, third.ContextKeywords)

	sess, ok := svc.Session("s1")
	require.True(t, ok)
	assert.Len(t, sess.ErrorSequence, 2)
	assert.Equal(t, []string{first.PatternID}, sess.PatternIDs)
	assert.Equal(t, "customer emails", sess.OriginalQuestion)
}

func TestRecordError_ReturnsCopy(t *testing.T) {
	svc := newService(t, newFakeClock())
	p, err := svc.RecordError("s1", fieldError("x"), Context{})
	require.NoError(t, err)
	p.Frequency = 100

	stored, ok := svc.Pattern(p.PatternID)
	require.True(t, ok)
	assert.Equal(t, 1, stored.Frequency)
}

func TestRecordError_NilError(t *testing.T) {
	svc := newService(t, newFakeClock())
	_, err := svc.RecordError("s1", nil, Context{})
	assert.Error(t, err)
}

func TestRecordSuccess(t *testing.T) {
	clock := newFakeClock()
	svc := newService(t, clock)

	p, err := svc.RecordError("s1", fieldError("emial"), Context{})
	require.NoError(t, err)
	_, err = svc.RecordError("s1", fieldError("emial2"), Context{})
	require.NoError(t, err)

	require.NoError(t, svc.RecordSuccess("s1", "SELECT email FROM customers"))
	sess, ok := svc.Session("s1")
	require.True(t, ok, "closed sessions stay until evicted")
	assert.True(t, sess.Closed)
	assert.Equal(t, "SELECT email FROM customers", sess.SuccessfulSQL)
	assert.Zero(t, svc.Stats().Sessions)
	require.NoError(t, svc.RecordSuccess("s1", "SELECT 2"), "closing twice is a no-op")

	got, _ := svc.Pattern(p.PatternID)
	assert.Equal(t, 1, got.SessionsSeen)
	assert.Equal(t, 1, got.SessionsFixed)
	require.NotNil(t, got.SuccessRateAfterFix)
	assert.Equal(t, 1.0, *got.SuccessRateAfterFix)
	assert.Equal(t, []string{"SELECT email FROM customers"}, got.CommonFixes)
	assert.Equal(t, 2, got.Frequency)

	// A session that is never fixed lowers the rate once evicted.
	_, err = svc.RecordError("s2", fieldError("emial"), Context{})
	require.NoError(t, err)
	clock.Advance(49 * time.Hour)
	assert.Equal(t, 2, svc.CleanupOldSessions(48*time.Hour), "closed s1 and idle s2")
	_, ok = svc.Session("s1")
	assert.False(t, ok)

	got, _ = svc.Pattern(p.PatternID)
	assert.Equal(t, 2, got.SessionsSeen)
	assert.Equal(t, 1, got.SessionsFixed)
	assert.Equal(t, 0.5, *got.SuccessRateAfterFix)

	assert.NoError(t, svc.RecordSuccess("never-seen", "SELECT 1"))
}

func TestRecordSuccess_CommonFixes(t *testing.T) {
	svc := newService(t, newFakeClock())
	var id string
	for i, fix := range []string{"f1", "f2", "f3", "f2", "f4", "f5", "f6"} {
		p, err := svc.RecordError("s", fieldError("x"), Context{})
		require.NoError(t, err, i)
		id = p.PatternID
		require.NoError(t, svc.RecordSuccess("s", fix))
	}
	got, _ := svc.Pattern(id)
	assert.Equal(t, []string{"f6", "f5", "f4", "f2", "f3"}, got.CommonFixes)
	assert.Equal(t, 7, got.SessionsFixed)
}

func TestRecordError_ReopensClosedSession(t *testing.T) {
	svc := newService(t, newFakeClock())
	_, err := svc.RecordError("s", fieldError("a"), Context{Question: "first"})
	require.NoError(t, err)
	require.NoError(t, svc.RecordSuccess("s", "SELECT a FROM t"))

	_, err = svc.RecordError("s", tableError("b"), Context{Question: "second"})
	require.NoError(t, err)
	sess, ok := svc.Session("s")
	require.True(t, ok)
	assert.False(t, sess.Closed)
	assert.Empty(t, sess.SuccessfulSQL)
	assert.Len(t, sess.ErrorSequence, 1)
	assert.Equal(t, "second", sess.OriginalQuestion)
	assert.Equal(t, 1, svc.Stats().Sessions)
}

func TestCleanupOldSessions_KeepsActive(t *testing.T) {
	clock := newFakeClock()
	svc := newService(t, clock)

	_, err := svc.RecordError("old", fieldError("a"), Context{})
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = svc.RecordError("fresh", tableError("b"), Context{})
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)

	assert.Equal(t, 1, svc.CleanupOldSessions(time.Hour))
	_, ok := svc.Session("old")
	assert.False(t, ok)
	_, ok = svc.Session("fresh")
	assert.True(t, ok)
	assert.Equal(t, 2, svc.Stats().Patterns, "patterns survive session eviction")

	assert.Zero(t, svc.CleanupOldSessions(0), "zero max age uses the configured 48h")
}

func TestGetFrequentPatterns(t *testing.T) {
	svc := newService(t, newFakeClock())
	for i := 0; i < 3; i++ {
		_, err := svc.RecordError("s", fieldError("x"), Context{})
		require.NoError(t, err)
	}
	_, err := svc.RecordError("s", tableError("y"), Context{})
	require.NoError(t, err)

	all := svc.GetFrequentPatterns(1)
	require.Len(t, all, 2)
	assert.Equal(t, model.ErrFieldMissing, all[0].ErrorType)
	assert.Equal(t, 3, all[0].Frequency)

	frequent := svc.GetFrequentPatterns(2)
	require.Len(t, frequent, 1)
	assert.Equal(t, model.ErrFieldMissing, frequent[0].ErrorType)
	assert.Empty(t, svc.GetFrequentPatterns(10))
}

func TestPredictErrors(t *testing.T) {
	svc := newService(t, newFakeClock())

	_, err := svc.RecordError("s1", fieldError("emial"), Context{Question: "customer emails"})
	require.NoError(t, err)
	_, err = svc.RecordError("s2", tableError("invoice"), Context{Question: "invoices by month"})
	require.NoError(t, err)

	got := svc.PredictErrors(Context{Question: "customer emails last month"})
	require.Len(t, got, 2)
	assert.InDelta(t, 2.0/3.0, got[model.ErrFieldMissing], 1e-9)
	assert.InDelta(t, 1.0/3.0, got[model.ErrTableMissing], 1e-9)

	ranked := RankPredictions(got)
	require.Len(t, ranked, 2)
	assert.Equal(t, model.ErrFieldMissing, ranked[0].ErrorType)

	assert.Empty(t, svc.PredictErrors(Context{Question: "weather tomorrow"}))
	assert.Empty(t, svc.PredictErrors(Context{}))
}

func TestPredictErrors_FrequencyAndFreshness(t *testing.T) {
	clock := newFakeClock()
	svc := newService(t, clock)

	_, err := svc.RecordError("s1", tableError("orders"), Context{Keywords: []string{"orders"}})
	require.NoError(t, err)
	clock.Advance(96 * time.Hour)
	for i := 0; i < 3; i++ {
		_, err = svc.RecordError("s2", fieldError("total"), Context{Keywords: []string{"orders"}})
		require.NoError(t, err)
	}

	got := svc.PredictErrors(Context{Keywords: []string{"orders"}})
	assert.Greater(t, got[model.ErrFieldMissing], 0.9)
	assert.InDelta(t, 1.0, got[model.ErrFieldMissing]+got[model.ErrTableMissing], 1e-9)
}

func TestLearnFromFeedback(t *testing.T) {
	lib := patterns.NewLibrary()
	svc := newService(t, newFakeClock(), WithLibrary(lib))

	msg := "engine refused plan: quota 'reports' exhausted"
	cls := classifier.New(classifier.WithLibrary(lib))
	assert.NotEqual(t, model.ErrPermission, cls.Classify(msg, "SELECT 1").ErrorType)

	p, err := svc.LearnFromFeedback(msg, model.ErrPermission)
	require.NoError(t, err)
	assert.True(t, p.Supervised)
	assert.Equal(t, model.ErrPermission, p.ErrorType)
	assert.GreaterOrEqual(t, p.Confidence, 0.9)

	learned := lib.LearnedSignatures()
	require.Len(t, learned, 1)
	assert.Equal(t, p.PatternID, learned[0].ID)

	got := cls.Classify("engine refused plan: quota 'exports' exhausted", "SELECT 1")
	assert.Equal(t, model.ErrPermission, got.ErrorType)
	assert.Equal(t, model.StrategyNoRetry, got.RetryStrategy)
}

func TestLearnFromFeedback_RelabelsExisting(t *testing.T) {
	svc := newService(t, newFakeClock())
	e := &model.SQLError{ErrorType: model.ErrUnknown, ErrorMessage: "weird failure 42"}
	p, err := svc.RecordError("s", e, Context{})
	require.NoError(t, err)

	relabelled, err := svc.LearnFromFeedback("weird failure 7", model.ErrConnection)
	require.NoError(t, err)
	assert.Equal(t, p.PatternID, relabelled.PatternID)
	assert.Equal(t, model.ErrConnection, relabelled.ErrorType)
	assert.Equal(t, 1, relabelled.Frequency)

	again, err := svc.RecordError("s", e, Context{})
	require.NoError(t, err)
	assert.Equal(t, model.ErrConnection, again.ErrorType, "supervised labels stick")
	assert.GreaterOrEqual(t, again.Confidence, 0.9)
}

func TestLearnFromFeedback_RejectsUnknownTypes(t *testing.T) {
	svc := newService(t, newFakeClock())
	for _, typ := range []model.ErrorType{model.ErrUnknown, "BOGUS", ""} {
		_, err := svc.LearnFromFeedback("x", typ)
		assert.ErrorIs(t, err, ErrUnknownErrorType, typ)
	}
	assert.Zero(t, svc.Stats().Patterns)
}

func TestDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	svc := New(cfg)
	assert.False(t, svc.Enabled())

	_, err := svc.RecordError("s", fieldError("x"), Context{})
	assert.ErrorIs(t, err, ErrLearningDisabled)
	assert.ErrorIs(t, svc.RecordSuccess("s", "SELECT 1"), ErrLearningDisabled)
	_, err = svc.LearnFromFeedback("x", model.ErrSyntax)
	assert.ErrorIs(t, err, ErrLearningDisabled)
	assert.Empty(t, svc.GetFrequentPatterns(0))

	svc.Enable()
	_, err = svc.RecordError("s", fieldError("x"), Context{})
	require.NoError(t, err)

	svc.Disable()
	assert.Len(t, svc.GetFrequentPatterns(0), 1, "reads keep working while disabled")
	assert.False(t, svc.Stats().Enabled)
}

func TestExport(t *testing.T) {
	svc := newService(t, newFakeClock())
	_, err := svc.RecordError("s1", fieldError("emial"), Context{Question: "emails"})
	require.NoError(t, err)
	_, err = svc.LearnFromFeedback("odd thing happened", model.ErrSyntax)
	require.NoError(t, err)

	data := svc.ExportLearningData()
	assert.Len(t, data.Patterns, 2)
	require.Len(t, data.Sessions, 1)
	assert.Equal(t, "s1", data.Sessions[0].SessionID)
	assert.Equal(t, 1, data.Stats.Supervised)

	require.NoError(t, svc.RecordSuccess("s1", "SELECT email FROM customers"))
	var closed bytes.Buffer
	require.NoError(t, svc.Export(&closed, "yaml"))
	assert.Contains(t, closed.String(), "successful_sql: SELECT email FROM customers")
	assert.Contains(t, closed.String(), "closed: true")

	var buf bytes.Buffer
	require.NoError(t, svc.Export(&buf, "json"))
	var fromJSON LearningData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Len(t, fromJSON.Patterns, 2)
	assert.Equal(t, 2, fromJSON.Stats.Patterns)

	buf.Reset()
	require.NoError(t, svc.Export(&buf, "yaml"))
	var fromYAML LearningData
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Len(t, fromYAML.Patterns, 2)
	assert.Equal(t, 1, fromYAML.Stats.ByType[model.ErrSyntax])

	assert.Error(t, svc.Export(&buf, "xml"))
}

func TestSnapshotRestore(t *testing.T) {
	src := newService(t, newFakeClock())
	for i := 0; i < 2; i++ {
		_, err := src.RecordError("s", fieldError("x"), Context{Question: "customer emails"})
		require.NoError(t, err)
	}
	_, err := src.LearnFromFeedback("quota 'a' exhausted", model.ErrPermission)
	require.NoError(t, err)

	lib := patterns.NewLibrary()
	dst := newService(t, newFakeClock(), WithLibrary(lib))
	require.NoError(t, dst.Restore(src.Snapshot()))

	assert.Equal(t, src.Snapshot(), dst.Snapshot())
	assert.Len(t, lib.LearnedSignatures(), 1)

	pred := dst.PredictErrors(Context{Question: "customer emails"})
	assert.InDelta(t, 1.0, pred[model.ErrFieldMissing], 1e-9)
}

func TestResetPatterns(t *testing.T) {
	lib := patterns.NewLibrary()
	svc := newService(t, newFakeClock(), WithLibrary(lib))
	_, err := svc.RecordError("s", fieldError("x"), Context{})
	require.NoError(t, err)
	_, err = svc.LearnFromFeedback("quota 'a' exhausted", model.ErrPermission)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.ResetPatterns())
	assert.Empty(t, svc.GetFrequentPatterns(0))
	assert.Empty(t, lib.LearnedSignatures())

	p, err := svc.RecordError("s", fieldError("x"), Context{})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Frequency)
}

func TestRecordError_Concurrent(t *testing.T) {
	svc := New(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordError("s", fieldError("col"), Context{})
			assert.NoError(t, err)
			_ = svc.PredictErrors(Context{Keywords: []string{"customers"}})
		}(i)
	}
	wg.Wait()

	ps := svc.GetFrequentPatterns(0)
	require.Len(t, ps, 1)
	assert.Equal(t, 50, ps[0].Frequency)
	sess, _ := svc.Session("s")
	assert.Len(t, sess.ErrorSequence, 50)
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]*model.ErrorPattern
	saves int
	fail  error
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*model.ErrorPattern)}
}

func (m *memStore) SavePatterns(_ context.Context, ps []*model.ErrorPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	for _, p := range ps {
		m.saved[p.PatternID] = p.Clone()
	}
	return nil
}

func (m *memStore) LoadPatterns(context.Context) ([]*model.ErrorPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ErrorPattern, 0, len(m.saved))
	for _, p := range m.saved {
		out = append(out, p.Clone())
	}
	return out, nil
}

func TestFlushAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newService(t, newFakeClock(), WithStore(store))

	_, err := svc.RecordError("s", fieldError("x"), Context{})
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 1, store.saves, "clean patterns are not saved again")
	assert.Len(t, store.saved, 1)

	store.fail = errors.New("disk full")
	_, err = svc.RecordError("s", tableError("y"), Context{})
	require.NoError(t, err)
	assert.ErrorContains(t, svc.Flush(ctx), "disk full")

	store.fail = nil
	require.NoError(t, svc.Flush(ctx))
	assert.Len(t, store.saved, 2, "failed batch is retried")

	restored := newService(t, newFakeClock(), WithStore(store))
	require.NoError(t, restored.Load(ctx))
	assert.Len(t, restored.GetFrequentPatterns(0), 2)

	noStore := New(DefaultConfig())
	assert.NoError(t, noStore.Flush(ctx))
	assert.NoError(t, noStore.Load(ctx))
}

func TestJanitor(t *testing.T) {
	store := newMemStore()
	svc := New(DefaultConfig(), WithStore(store))
	_, err := svc.RecordError("s", fieldError("x"), Context{})
	require.NoError(t, err)

	j, err := svc.StartJanitor(context.Background(), "@every 1s", time.Nanosecond)
	require.NoError(t, err)
	defer j.Stop()

	require.Eventually(t, func() bool {
		_, open := svc.Session("s")
		store.mu.Lock()
		defer store.mu.Unlock()
		return !open && len(store.saved) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestJanitor_BadSchedule(t *testing.T) {
	svc := New(DefaultConfig())
	_, err := svc.StartJanitor(context.Background(), "not a schedule", time.Hour)
	assert.Error(t, err)
}
