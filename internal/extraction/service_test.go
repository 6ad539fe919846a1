package extraction

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/gateway"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/pipeline"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/sqltemplate"
)

const seedSQL = `
CREATE TABLE trip (id INTEGER, program_label VARCHAR, vessel_code VARCHAR, departure_date_time TIMESTAMP,
  return_date_time TIMESTAMP, departure_location VARCHAR, observer_name VARCHAR);
CREATE TABLE operation (id INTEGER, trip_id INTEGER, start_date_time TIMESTAMP, latitude DOUBLE, longitude DOUBLE,
  rectangle VARCHAR, area VARCHAR, gear VARCHAR, fishing_time INTEGER);
CREATE TABLE catch_batch (id INTEGER, operation_id INTEGER, species_code VARCHAR, category VARCHAR,
  weight DOUBLE, individual_count INTEGER);
CREATE TABLE length_batch (id INTEGER, catch_batch_id INTEGER, length_class INTEGER, individual_count INTEGER, sex VARCHAR);

INSERT INTO trip VALUES
  (1, 'SIH-OBSMER', 'FRA001', '2020-03-01 06:00:00', '2020-03-03 18:00:00', 'FRBOL', 'Alice'),
  (2, 'SIH-OBSMER', 'FRA002', '2021-05-01 06:00:00', '2021-05-02 18:00:00', 'FRLRH', 'Bob'),
  (3, 'OTHER', 'BEL001', '2020-07-01 06:00:00', '2020-07-02 18:00:00', 'BEOST', 'Carol');
INSERT INTO operation VALUES
  (10, 1, '2020-03-01 08:00:00', 47.5, -5.1, '24E4', '27.7.h', 'OTB', 120),
  (11, 1, '2020-03-02 08:00:00', 47.7, -5.3, '25E4', '27.7.h', 'OTB', NULL),
  (20, 2, '2021-05-01 09:00:00', 50.1, 1.2, '28F1', '27.7.d', 'PTM', 60);
INSERT INTO catch_batch VALUES
  (100, 10, 'COD', 'LAN', 12.5, 10),
  (101, 11, 'HKE', 'DIS', 3.0, 4),
  (200, 20, 'COD', 'LAN', 8.0, 6);
INSERT INTO length_batch VALUES
  (1000, 100, 30, 5, 'M'),
  (1001, 100, 35, 5, 'F'),
  (2000, 200, 40, 6, 'U');
`

type fixture struct {
	db      *sql.DB
	service *Service
}

func newFixture(t *testing.T, keepRaw bool) *fixture {
	t.Helper()
	db, err := gateway.Open(gateway.DriverDuckDB, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(seedSQL)
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	gw := gateway.NewSQL(db, time.Minute, logger)
	compiler := sqltemplate.NewCompiler(sqltemplate.NewFSStore(Templates()))
	runner := pipeline.NewRunner(compiler, gw, pipeline.Config{KeepRawTables: keepRaw, MaxParallel: 2}, logger)
	registry := pipeline.NewRegistry()
	require.NoError(t, RegisterFormats(registry))
	return &fixture{db: db, service: NewService(registry, runner, logger)}
}

func (f *fixture) stagingTables(t *testing.T) []string {
	t.Helper()
	rows, err := f.db.Query(`SELECT table_name FROM information_schema.tables WHERE table_name LIKE 'ext_%' ORDER BY table_name`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		out = append(out, name)
	}
	require.NoError(t, rows.Err())
	return out
}

func readAll(t *testing.T, f *fixture, pc *pipeline.Context, sheet string) ([]string, [][]any) {
	t.Helper()
	it, err := f.service.Read(context.Background(), pc, sheet)
	require.NoError(t, err)
	cols := it.Columns()
	rows, err := gateway.Collect(it)
	require.NoError(t, err)
	return cols, rows
}

func TestExecute_RDB(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	pc, err := f.service.Execute(ctx, domain.FormatRef{Label: "RDB", Version: "1.0"}, &domain.Filter{
		Criteria: []domain.Criterion{
			{Sheet: SheetTrip, Column: "project", Operator: domain.OpEqual, Value: "SIH-OBSMER"},
			{Sheet: SheetTrip, Column: "year", Operator: domain.OpEqual, Value: "2020"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"TR", "HH", "SL", "HL"}, pc.SheetNames())
	counts := map[string]int64{}
	for _, sheet := range pc.SheetNames() {
		table, _ := pc.TableNameForSheet(sheet)
		counts[sheet] = pc.RowCount(table)
	}
	assert.Equal(t, map[string]int64{"TR": 1, "HH": 2, "SL": 2, "HL": 2}, counts)
	assert.Empty(t, pc.RawTableNames())

	cols, rows := readAll(t, f, pc, "TR")
	assert.NotContains(t, cols, "trip_id")
	assert.Contains(t, cols, "project")
	require.Len(t, rows, 1)

	cols, _ = readAll(t, f, pc, "HL")
	assert.NotContains(t, cols, "species_list_id")
	assert.Contains(t, cols, "length_class")

	require.NoError(t, f.service.Clean(ctx, pc))
	assert.Empty(t, f.stagingTables(t))
}

func TestExecute_RDB13UsesStationOverride(t *testing.T) {
	f := newFixture(t, false)

	pc, err := f.service.Execute(context.Background(), domain.FormatRef{Label: "rdb"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.3", pc.Format.Version)

	cols, rows := readAll(t, f, pc, "HH")
	assert.Contains(t, cols, "fishing_validity")
	assert.Len(t, rows, 3)

	cols, _ = readAll(t, f, pc, "TR")
	assert.Contains(t, cols, "number_of_sets", "v1.3 falls back to the v1.0 trip template")
}

func TestExecute_EmptyStationStopsChain(t *testing.T) {
	f := newFixture(t, true)

	pc, err := f.service.Execute(context.Background(), domain.FormatRef{Label: "RDB", Version: "1.0"}, &domain.Filter{
		Criteria: []domain.Criterion{{Sheet: SheetTrip, Column: "project", Operator: domain.OpIn, Values: []string{"OTHER"}}},
	})
	require.NoError(t, err)

	assert.True(t, pc.HasSheet("TR"))
	assert.False(t, pc.HasSheet("HH"))
	assert.Equal(t, []string{pc.TableName("HH")}, pc.RawTableNames())
	assert.Equal(t, pipeline.StatusSkipped, pc.StageStatus("SL"))
	assert.Equal(t, []string{pc.TableName("HH"), pc.TableName("TR")}, f.stagingTables(t), "raw tables kept in debug mode")
}

func TestExecute_CleanFilterAndRead(t *testing.T) {
	f := newFixture(t, false)

	pc, err := f.service.Execute(context.Background(), domain.FormatRef{Label: "RDB", Version: "1.0"}, &domain.Filter{
		Criteria: []domain.Criterion{
			{Sheet: SheetStation, Column: "area", Operator: domain.OpEqual, Value: "27.7.d"},
			{Sheet: SheetSpeciesList, Column: "species", Operator: domain.OpEqual, Value: "COD"},
		},
		Preview:        true,
		ExcludeColumns: []string{"record_type"},
	})
	require.NoError(t, err)

	table, _ := pc.TableNameForSheet("HH")
	assert.Equal(t, int64(1), pc.RowCount(table))
	table, _ = pc.TableNameForSheet("SL")
	assert.Equal(t, int64(1), pc.RowCount(table))

	cols, rows := readAll(t, f, pc, "HH")
	assert.NotContains(t, cols, "record_type")
	require.Len(t, rows, 1)

	_, err = f.service.Read(context.Background(), pc, "XX")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestExecute_FailureLeavesNoTables(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.db.Exec("DROP TABLE length_batch")
	require.NoError(t, err)

	_, err = f.service.Execute(context.Background(), domain.FormatRef{Label: "RDB", Version: "1.0"}, nil)
	require.Error(t, err)

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SheetSpeciesLength, se.Sheet)
	assert.Equal(t, domain.PhaseExecuting, se.Phase)
	assert.Contains(t, err.Error(), "RDB v1.0: stage HL")
	assert.Empty(t, f.stagingTables(t))
}

func TestExecute_InvalidRequests(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.service.Execute(ctx, domain.FormatRef{Label: "COST"}, nil)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	var ve *domain.ValidationError
	_, err = f.service.Execute(ctx, domain.FormatRef{Label: "RDB"}, &domain.Filter{Sheet: "XX"})
	require.ErrorAs(t, err, &ve)

	_, err = f.service.Execute(ctx, domain.FormatRef{Label: "RDB"}, &domain.Filter{
		Criteria: []domain.Criterion{{Sheet: SheetTrip, Column: "year", Operator: domain.OpEqual, Value: "twenty"}},
	})
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, f.stagingTables(t))

	assert.Len(t, f.service.Formats(), 2)
}

func TestVisibleColumns(t *testing.T) {
	cols := []string{"record_type", "trip_id", "project", "year", "area"}

	assert.Equal(t, []string{"record_type", "project", "year", "area"}, VisibleColumns(cols, []string{"trip_id"}, nil))
	assert.Equal(t, []string{"project", "year"}, VisibleColumns(cols, []string{"trip_id"}, &domain.Filter{
		IncludeColumns: []string{"YEAR", "project", "trip_id"},
	}))
	assert.Equal(t, []string{"record_type", "year"}, VisibleColumns(cols, []string{"trip_id"}, &domain.Filter{
		ExcludeColumns: []string{"project", "area"},
	}))
}
