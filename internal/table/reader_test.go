package table

import (
	"errors"
	"strings"
	"testing"
)

const sampleCSV = "\ufeffjob_id,job_title,company_name,country,country_code,region,full_description,date,source\n" +
	"1,Backend Developer,Acme,Bulgaria,BG,Sofia (stolitsa),\"Go, SQL\",2025-03-01,eures\n" +
	"2,Welder,,Poland,PL,nan,\"Line one\nline two\",1736899200000,eures\n"

func TestRead(t *testing.T) {
	in, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if in.Header[0] != ColJobID {
		t.Errorf("BOM not stripped: %q", in.Header[0])
	}

	if len(in.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(in.Records))
	}

	first := in.Records[0]
	if first.ID != "1" || first.Company != "Acme" || first.Description != "Go, SQL" || first.RawDate != "2025-03-01" {
		t.Errorf("first record = %+v", first)
	}

	if first.Extra["source"] != "eures" {
		t.Errorf("Extra = %v", first.Extra)
	}

	if in.Records[1].Description != "Line one\nline two" {
		t.Errorf("multi-line description = %q", in.Records[1].Description)
	}
}

func TestRead_CompanyOptional(t *testing.T) {
	content := "job_id,job_title,country,country_code,region,full_description,date\n" +
		"7,Nurse,Spain,ES,,care,2025-02-02\n"

	in, err := Read(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if in.Records[0].Company != "" {
		t.Errorf("Company = %q", in.Records[0].Company)
	}
}

func TestRead_MissingColumn(t *testing.T) {
	content := "job_id,job_title,country,country_code,region,date\n1,a,b,c,d,e\n"

	_, err := Read(strings.NewReader(content))
	if !errors.Is(err, ErrMissingColumn) || !strings.Contains(err.Error(), ColDescription) {
		t.Errorf("Read() error = %v, want ErrMissingColumn naming %s", err, ColDescription)
	}
}

func TestRead_Empty(t *testing.T) {
	if _, err := Read(strings.NewReader("")); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Read() error = %v, want ErrEmptyInput", err)
	}
}

func TestRead_SkipsShortRows(t *testing.T) {
	content := "job_id,job_title,country,country_code,region,full_description,date\n" +
		"1,a,b,c,d,e,f\n" +
		"2,a,b\n" +
		"3,a,b,c,d,e,f\n"

	in, err := Read(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if len(in.Records) != 2 || in.Skipped != 1 {
		t.Errorf("records = %d, skipped = %d", len(in.Records), in.Skipped)
	}
}
