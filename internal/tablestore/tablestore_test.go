package tablestore

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateTableAsAndCount(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateTableAs("property_bronze_1", "SELECT 'P1' AS listing_id, 800000 AS listing_price"); err != nil {
		t.Fatalf("CreateTableAs() error = %v", err)
	}

	n, err := s.Count("property_bronze_1")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestCreateTableAsWriteOnce(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateTableAs("property_bronze_1", "SELECT 'P1' AS listing_id"); err != nil {
		t.Fatalf("first CreateTableAs() error = %v", err)
	}
	err := s.CreateTableAs("property_bronze_1", "SELECT 'P2' AS listing_id")
	if err == nil {
		t.Fatalf("expected ErrTableExists on second CreateTableAs with the same name")
	}
}

func TestSampleAndSchema(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateTableAs("neighborhood_bronze_1", "SELECT 'N1' AS neighborhood_id, 'Mission' AS name"); err != nil {
		t.Fatalf("CreateTableAs() error = %v", err)
	}

	rows, err := s.Sample("neighborhood_bronze_1", 10)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Sample() returned %d rows, want 1", len(rows))
	}
	if rows[0]["name"] != "Mission" {
		t.Errorf("Sample()[0][name] = %v, want Mission", rows[0]["name"])
	}

	cols, err := s.Schema("neighborhood_bronze_1")
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("Schema() returned %d columns, want 2", len(cols))
	}
}

func TestDropAndDropRun(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateTableAs("property_bronze_77", "SELECT 'P1' AS listing_id"); err != nil {
		t.Fatalf("CreateTableAs() error = %v", err)
	}
	if err := s.CreateTableAs("property_silver_77", "SELECT 'P1' AS listing_id"); err != nil {
		t.Fatalf("CreateTableAs() error = %v", err)
	}
	if err := s.CreateTableAs("neighborhood_bronze_99", "SELECT 'N1' AS neighborhood_id"); err != nil {
		t.Fatalf("CreateTableAs() error = %v", err)
	}

	if err := s.DropRun("77"); err != nil {
		t.Fatalf("DropRun() error = %v", err)
	}

	if _, err := s.Count("property_bronze_77"); err == nil {
		t.Errorf("expected property_bronze_77 to be dropped")
	}
	if _, err := s.Count("neighborhood_bronze_99"); err != nil {
		t.Errorf("expected neighborhood_bronze_99 to survive DropRun(\"77\"): %v", err)
	}
}

func TestCreateEmptyTable(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateEmptyTable("enriched_property_neighborhood_1", []ColumnInfo{
		{Name: "listing_id", Type: "TEXT"},
		{Name: "neighborhood_name", Type: "TEXT"},
		{Name: "enrichment_success", Type: "INTEGER"},
	})
	if err != nil {
		t.Fatalf("CreateEmptyTable() error = %v", err)
	}

	n, err := s.Count("enriched_property_neighborhood_1")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}
