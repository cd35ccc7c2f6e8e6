package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/seliom/fiskal/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	if err := CreateSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateSchema creates the pipeline tables idempotently. Also used by the
// migrate command.
func CreateSchema(db *sql.DB) error {
	if err := createFiscalDocumentTable(db); err != nil {
		return err
	}
	if err := createShipmentGuideTable(db); err != nil {
		return err
	}
	return createRegulatoryReportTable(db)
}

func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// createFiscalDocumentTable creates a PostgreSQL table for the FiscalDocument struct
func createFiscalDocumentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fiscal_documents (
			id SERIAL PRIMARY KEY,
			document_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			series TEXT NOT NULL,
			sequence_number BIGINT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('INVOICE', 'CREDIT_NOTE')),
			net_amount NUMERIC(20,4) NOT NULL,
			tax_amount NUMERIC(20,4) NOT NULL,
			gross_amount NUMERIC(20,4) NOT NULL,
			currency TEXT NOT NULL,
			counterpart_tax_id TEXT NOT NULL,
			counterpart_name TEXT,
			state TEXT NOT NULL DEFAULT 'DRAFT',
			ticket_id TEXT,
			payload_hash TEXT,
			rejection_reason TEXT,
			ack_receipt TEXT,
			artifact_content TEXT,
			submitted_at TIMESTAMP,
			accepted_at TIMESTAMP,
			artifact_generated_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB,
			UNIQUE (tenant_id, series, sequence_number)
		)
	`)
	if err != nil {
		log.Printf("Error creating fiscal_documents table: %v", err)
	}
	return err
}

// createShipmentGuideTable creates a PostgreSQL table for the ShipmentGuide struct
func createShipmentGuideTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS shipment_guides (
			id SERIAL PRIMARY KEY,
			guide_id TEXT NOT NULL UNIQUE,
			number TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			destination TEXT NOT NULL,
			modality TEXT NOT NULL CHECK (modality IN ('ROAD', 'RAIL', 'SEA', 'AIR')),
			weight_kg DOUBLE PRECISION,
			carrier_name TEXT,
			vehicle_plate TEXT,
			document_ref TEXT,
			state TEXT NOT NULL DEFAULT 'DRAFT',
			authority_code TEXT,
			rejection_reason TEXT,
			communicated_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating shipment_guides table: %v", err)
	}
	return err
}

// createRegulatoryReportTable creates a PostgreSQL table for the RegulatoryReport struct.
// The partial unique index is the backstop against two concurrent RUNNING
// generations for the same (tenant, period, kind) key.
func createRegulatoryReportTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS regulatory_reports (
			id SERIAL PRIMARY KEY,
			report_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			period TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('SAFT_INVOICING', 'VAT_SUMMARY')),
			state TEXT NOT NULL DEFAULT 'RUNNING',
			record_count BIGINT NOT NULL DEFAULT 0,
			content TEXT,
			error_message TEXT,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating regulatory_reports table: %v", err)
		return err
	}
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS regulatory_reports_running_key
		ON regulatory_reports (tenant_id, period, kind)
		WHERE state = 'RUNNING'
	`)
	if err != nil {
		log.Printf("Error creating regulatory_reports unique index: %v", err)
	}
	return err
}
