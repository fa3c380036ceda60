package store

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tokmz/wsgate/pkg/tracing"
)

const spanKey = "wsgate:span"

// tracingPlugin 为 create / query 操作创建 Span，不记录 SQL 文本
type tracingPlugin struct{}

func (p *tracingPlugin) Name() string { return "wsgate:tracing" }

func (p *tracingPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("wsgate:before_create", p.before("db.create")); err != nil {
		return err
	}
	if err := db.Callback().Create().After("gorm:create").Register("wsgate:after_create", p.after); err != nil {
		return err
	}
	if err := db.Callback().Query().Before("gorm:query").Register("wsgate:before_query", p.before("db.query")); err != nil {
		return err
	}
	return db.Callback().Query().After("gorm:query").Register("wsgate:after_query", p.after)
}

func (p *tracingPlugin) before(name string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.Context == nil {
			return
		}
		ctx, span := tracing.StartSpan(db.Statement.Context, name,
			attribute.String("db.system", db.Dialector.Name()),
			attribute.String("db.table", db.Statement.Table),
		)
		db.Statement.Context = ctx
		db.InstanceSet(spanKey, span)
	}
}

func (p *tracingPlugin) after(db *gorm.DB) {
	v, ok := db.InstanceGet(spanKey)
	if !ok {
		return
	}
	span, ok := v.(trace.Span)
	if !ok {
		return
	}
	defer span.End()
	span.SetAttributes(attribute.Int64("db.rows_affected", db.RowsAffected))
	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		tracing.RecordError(span, db.Error)
	}
}
