package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type counterRow struct {
	Prefix        string `gorm:"primaryKey;size:32"`
	FinancialYear string `gorm:"primaryKey;size:5"`
	LastNumber    int64
}

func (counterRow) TableName() string { return "invoice_counters" }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&counterRow{}))
	return db
}

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, "mysql", cfg.DBSystem)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
}

func TestNewDBTracingPlugin_DefaultsThreshold(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
	assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
}

func TestRegisterOtelGorm_Disabled(t *testing.T) {
	sr := setupRecorder(t)
	db := setupTestDB(t)

	require.NoError(t, NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop()).RegisterOtelGorm(db))
	require.NoError(t, db.Create(&counterRow{Prefix: "PO", FinancialYear: "25-26"}).Error)

	assert.Empty(t, sr.Ended())
}

func TestRegisterOtelGorm_RecordsQuerySpans(t *testing.T) {
	sr := setupRecorder(t)
	db := setupTestDB(t)
	core, logs := observer.New(zap.InfoLevel)

	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	cfg.DBSystem = "sqlite"
	require.NoError(t, NewDBTracingPlugin(cfg, zap.New(core)).RegisterOtelGorm(db))
	assert.Equal(t, 1, logs.FilterMessage("Database tracing enabled").Len())

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&counterRow{Prefix: "PO", FinancialYear: "25-26", LastNumber: 12}).Error)
	res := db.WithContext(ctx).Model(&counterRow{}).
		Where("prefix = ? AND financial_year = ?", "PO", "25-26").
		Update("last_number", gorm.Expr("last_number + 1"))
	require.NoError(t, res.Error)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		attrs := spanAttrs(s)
		assert.Equal(t, "invoice_counters", attrs["db.sql.table"].AsString())
		assert.Equal(t, int64(1), attrs["db.rows_affected"].AsInt64())
		assert.NotContains(t, attrs, attribute.Key("db.slow_query"))
	}
}

func TestRegisterOtelGorm_MarksErrors(t *testing.T) {
	sr := setupRecorder(t)
	db := setupTestDB(t)

	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	require.NoError(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))

	require.Error(t, db.Exec("UPDATE missing_table SET x = 1").Error)

	var row counterRow
	require.ErrorIs(t, db.First(&row, "prefix = ?", "NONE").Error, gorm.ErrRecordNotFound)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEqual(t, codes.Error, spans[1].Status().Code)
}

func TestRegisterOtelGorm_FlagsSlowQueries(t *testing.T) {
	sr := setupRecorder(t)
	db := setupTestDB(t)

	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	cfg.SlowQueryThresh = time.Nanosecond
	require.NoError(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))

	var rows []counterRow
	require.NoError(t, db.Find(&rows).Error)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.True(t, spanAttrs(spans[0])["db.slow_query"].AsBool())
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "slow_query", spans[0].Events()[0].Name)
}

func TestRegisterOtelGorm_DoubleRegistration(t *testing.T) {
	db := setupTestDB(t)
	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	p := NewDBTracingPlugin(cfg, zap.NewNop())

	require.NoError(t, p.RegisterOtelGorm(db))
	assert.Error(t, p.RegisterOtelGorm(db))
}
