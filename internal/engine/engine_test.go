package engine

import (
	"context"
	"errors"
	"path/filepath"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"sql-guard/internal/config"
	"sql-guard/internal/feedback"
	"sql-guard/internal/learning"
	"sql-guard/internal/model"
	"sql-guard/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var shop = model.Schema{
	"customers": {"id", "name", "email"},
	"orders":    {"id", "customer_id", "total"},
}

func newEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Retry.BackoffBaseSeconds = 0.001
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func fixed(sql string) retry.RegenerateFunc {
	return func(context.Context, string) (string, error) { return sql, nil }
}

func TestValidate(t *testing.T) {
	e := newEngine(t, nil)

	ok := e.Validate("SELECT name FROM customers WHERE id = 1", shop)
	assert.True(t, ok.IsValid)
	assert.Equal(t, model.LevelSafe, ok.SecurityLevel)

	drop := e.Validate("DROP TABLE customers", shop)
	assert.False(t, drop.IsValid)
	assert.Equal(t, model.LevelBlocked, drop.SecurityLevel)

	results, err := e.ValidateBatch(context.Background(), []string{
		"SELECT * FROM customers",
		"SELECT nme FROM customers",
	}, model.NewSchemaCtx(shop))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].IsValid)
	assert.False(t, results[1].IsValid)
}

func TestHandleWithRetry_FeedsLearning(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	req := retry.Request{
		SessionID:        "s1",
		ErrorMessage:     "Unknown column 'emial' in 'field list'",
		SQL:              "SELECT emial FROM customers",
		OriginalQuestion: "customer emails",
		Schema:           shop,
	}
	res := e.HandleWithRetry(ctx, req, fixed("SELECT email FROM customers"))
	require.True(t, res.Success)
	assert.Equal(t, "SELECT email FROM customers", res.FinalSQL)
	assert.Equal(t, 1, e.Retry().AttemptsFor("s1", model.ErrFieldMissing))

	require.NoError(t, e.Sync(ctx))
	ps := e.Learning().GetFrequentPatterns(1)
	require.Len(t, ps, 1)
	assert.Equal(t, model.ErrFieldMissing, ps[0].ErrorType)
	assert.Contains(t, ps[0].ContextKeywords, "emails")
	_, open := e.Learning().Session("s1")
	assert.True(t, open)

	require.NoError(t, e.RecordSuccess("s1", res.FinalSQL))
	require.NoError(t, e.Sync(ctx))
	assert.Zero(t, e.Retry().AttemptsFor("s1", model.ErrFieldMissing))
	p, _ := e.Learning().Pattern(ps[0].PatternID)
	assert.Equal(t, 1, p.SessionsFixed)
	assert.Equal(t, []string{"SELECT email FROM customers"}, p.CommonFixes)

	pred := e.PredictErrors(learning.Context{Question: "customer emails by month"})
	require.NotEmpty(t, pred)
	assert.Equal(t, model.ErrFieldMissing, pred[0].ErrorType)
}

func TestHandleWithRetry_ValidationGate(t *testing.T) {
	e := newEngine(t, nil)
	var calls int32
	regen := func(context.Context, string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "DROP TABLE customers", nil
	}
	res := e.HandleWithRetry(context.Background(), retry.Request{
		SessionID:    "s",
		ErrorMessage: `near "SELEC": syntax error`,
		SQL:          "SELEC * FROM customers",
		Schema:       shop,
	}, regen)
	assert.False(t, res.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestLearningDisabled(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, func(c *config.Config) { c.Learning.Enabled = false })

	e.HandleWithRetry(ctx, retry.Request{SessionID: "s", ErrorMessage: "permission denied for table payroll"}, nil)
	require.NoError(t, e.RecordSuccess("s", "SELECT 1"))
	require.NoError(t, e.Sync(ctx))
	assert.Empty(t, e.Learning().GetFrequentPatterns(0))
}

func TestCloseDrainsQueue(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	for i := 0; i < 20; i++ {
		res := e.HandleWithRetry(ctx, retry.Request{SessionID: "s", ErrorMessage: "permission denied for table payroll"}, nil)
		assert.False(t, res.Success)
	}
	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	ps := e.Learning().GetFrequentPatterns(0)
	require.Len(t, ps, 1)
	assert.Equal(t, 20, ps[0].Frequency)
	assert.Equal(t, model.ErrPermission, ps[0].ErrorType)

	assert.ErrorIs(t, e.RecordSuccess("s", "SELECT 1"), ErrClosed)
	assert.ErrorIs(t, e.Sync(ctx), ErrClosed)
	res := e.HandleWithRetry(ctx, retry.Request{SessionID: "s", ErrorMessage: "permission denied for table payroll"}, nil)
	assert.Equal(t, model.ErrPermission, res.LastError.ErrorType, "handling still works after close")
}

func TestLearnFromFeedback(t *testing.T) {
	e := newEngine(t, nil)
	msg := "engine refused plan: quota 'reports' exhausted"
	_, err := e.LearnFromFeedback(msg, model.ErrPermission)
	require.NoError(t, err)

	got := e.Classify("engine refused plan: quota 'exports' exhausted", "SELECT 1")
	assert.Equal(t, model.ErrPermission, got.ErrorType)
	assert.Equal(t, model.StrategyNoRetry, got.RetryStrategy)

	_, err = e.LearnFromFeedback(msg, model.ErrUnknown)
	assert.ErrorIs(t, err, learning.ErrUnknownErrorType)
}

func TestLearnFromFeedback_OverridesVendorSignature(t *testing.T) {
	e := newEngine(t, nil)
	msg := "Lock wait timeout exceeded; try restarting transaction"
	assert.Equal(t, model.ErrConnection, e.Classify(msg, "").ErrorType)

	_, err := e.LearnFromFeedback(msg, model.ErrPermission)
	require.NoError(t, err)

	got := e.Classify(msg, "")
	assert.Equal(t, model.ErrPermission, got.ErrorType)
	assert.Equal(t, model.StrategyNoRetry, got.RetryStrategy)
}

func TestConfiguredInjectionSignatures(t *testing.T) {
	sql := "SELECT id FROM customers WHERE id = utl_inaddr(7)"
	assert.True(t, newEngine(t, nil).Validate(sql, shop).IsValid)

	e := newEngine(t, func(c *config.Config) {
		c.Validator.InjectionSignatures = map[string]string{"utl_inaddr": `(?i)\butl_inaddr\s*\(`}
	})
	res := e.Validate(sql, shop)
	assert.False(t, res.IsValid)
	assert.True(t, res.HasKind(model.KindSQLInjection))

	cfg := config.Default()
	cfg.Validator.InjectionSignatures = map[string]string{"broken": `(`}
	_, err := New(context.Background(), cfg, WithLogger(zap.NewNop()))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestGenerateFeedback_ReportsSpentAttempts(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	failing := func(context.Context, string) (string, error) { return "", errors.New("model unavailable") }
	res := e.HandleWithRetry(ctx, retry.Request{SessionID: "s", ErrorMessage: "no such column: emial"}, failing)
	require.False(t, res.Success)

	sqlErr := e.Classify("no such column: emial", "")
	msg := e.GenerateFeedback(sqlErr, feedback.Context{SessionID: "s"})
	assert.Equal(t, 3, msg.Attempt)
	assert.Equal(t, 3, msg.MaxAttempts)

	msg = e.GenerateFeedback(sqlErr, feedback.Context{SessionID: "other"})
	assert.Zero(t, msg.Attempt)
}

func TestStrategyOverrides(t *testing.T) {
	e := newEngine(t, func(c *config.Config) {
		c.Retry.Strategies = map[string]string{"TABLE_NOT_EXISTS": "NO_RETRY"}
	})
	got := e.Classify("no such table: invoices", "SELECT * FROM invoices")
	assert.Equal(t, model.StrategyNoRetry, got.RetryStrategy)
}

func TestInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.Strategies = map[string]string{"BOGUS": "NO_RETRY"}
	_, err := New(context.Background(), cfg, WithLogger(zap.NewNop()))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg = config.Default()
	cfg.LogLevel = "loud"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "patterns.db")
	withStore := func(c *config.Config) { c.Learning.StorePath = path }

	first := newEngine(t, withStore)
	for i := 0; i < 3; i++ {
		first.HandleWithRetry(ctx, retry.Request{SessionID: "s", ErrorMessage: "no such table: invoices"}, nil)
	}
	_, err := first.LearnFromFeedback("quota 'a' exhausted", model.ErrPermission)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second := newEngine(t, withStore)
	ps := second.Learning().GetFrequentPatterns(3)
	require.Len(t, ps, 1)
	assert.Equal(t, model.ErrTableMissing, ps[0].ErrorType)
	assert.Len(t, second.Library().LearnedSignatures(), 1)
	assert.Equal(t, model.ErrPermission, second.Classify("quota 'b' exhausted", "").ErrorType)
}

func TestResetPatterns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "patterns.db")
	withStore := func(c *config.Config) { c.Learning.StorePath = path }

	first := newEngine(t, withStore)
	first.HandleWithRetry(ctx, retry.Request{SessionID: "s", ErrorMessage: "no such table: invoices"}, nil)
	require.NoError(t, first.Close(ctx))

	second := newEngine(t, withStore)
	require.Len(t, second.Learning().GetFrequentPatterns(1), 1)
	n, err := second.ResetPatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, second.Close(ctx))

	third := newEngine(t, withStore)
	assert.Empty(t, third.Learning().GetFrequentPatterns(1))
}

func TestStartJanitor(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.Learning.CleanupSchedule = "@every 1h" })
	require.NoError(t, e.Start())
	require.NoError(t, e.Start())
	require.NoError(t, e.Close(context.Background()))

	bad := newEngine(t, func(c *config.Config) { c.Learning.CleanupSchedule = "whenever" })
	assert.Error(t, bad.Start())
}

func TestStartJanitor_EvictsRetrySessions(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, func(c *config.Config) {
		c.Learning.CleanupSchedule = "@every 1s"
		c.Learning.PatternMaxAgeHours = 1e-6
	})
	for i := 0; i < 50; i++ {
		req := retry.Request{SessionID: fmt.Sprintf("s-%d", i), ErrorMessage: "permission denied for table payroll"}
		res := e.HandleWithRetry(ctx, req, nil)
		require.Equal(t, model.StrategyNoRetry, res.LastError.RetryStrategy)
	}
	require.Equal(t, 50, e.Retry().Stats().Sessions)

	require.NoError(t, e.Start())
	assert.Eventually(t, func() bool {
		return e.Retry().Stats().Sessions == 0
	}, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, e.Close(ctx))
}

func TestMetricsCollector(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.Metrics.Enabled = true })
	require.NotNil(t, e.Prometheus())
	e.Validate("SELECT 1", nil)

	families, err := e.Prometheus().Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "sqlguard_validations_total")

	assert.Nil(t, newEngine(t, nil).Prometheus())
}
