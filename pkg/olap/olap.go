package olap

import (
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/stleox/tracepost/pkg/tracer"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// DATETIME(6) layout
const date6 = "2006-01-02 15:04:05.000000"

// Olap is the run ledger. A nil *Olap records nothing.
type Olap struct {
	conn        sqlx.SqlConn
	runInserter *sqlx.BulkInserter
}

func NewOlap(dsn string) (*Olap, error) {
	db := sqlx.NewMysql(dsn)

	if err := CreateRunTable(db); err != nil {
		return nil, err
	}

	runInserter, err := NewRunInserter(db)
	if err != nil {
		return nil, err
	}

	return &Olap{
		conn:        db,
		runInserter: runInserter,
	}, nil
}

func CreateRunTable(db sqlx.SqlConn) error {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS `t_run` " +
		"(trace_id VARCHAR(32), " +
		"span_id VARCHAR(16), " +
		"target VARCHAR(2048), " +
		"status_code INT, " +
		"error TEXT, " +
		"start_time DATETIME(6), " +
		"end_time DATETIME(6))")
	return err
}

func NewRunInserter(db sqlx.SqlConn) (*sqlx.BulkInserter, error) {
	return sqlx.NewBulkInserter(db, "INSERT INTO `t_run` "+
		"(trace_id, "+
		"span_id, "+
		"target, "+
		"status_code, "+
		"error, "+
		"start_time, "+
		"end_time) "+
		"VALUES (?,?,?,?,?,?,?)")
}

// Record implements tracer.Recorder.
func (o *Olap) Record(res *tracer.Result) {
	if o == nil {
		return
	}
	if err := o.runInserter.Insert(runRow(res)...); err != nil {
		logrus.WithError(err).WithField("trace_id", res.TraceID).Warn("tracepost couldn't insert run")
	}
}

func (o *Olap) Flush() {
	if o == nil {
		return
	}
	o.runInserter.Flush()
}

func runRow(res *tracer.Result) []any {
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	return []any{
		res.TraceID,
		res.SpanID,
		res.Target,
		res.StatusCode,
		errMsg,
		res.StartTime.UTC().Format(date6),
		res.EndTime.UTC().Format(date6),
	}
}
