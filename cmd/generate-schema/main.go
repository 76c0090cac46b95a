package main

import (
	"flag"
	"os"

	"github.com/filecatalog/speedtest/pkg/speedtest/model"
	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"

	"cloud.google.com/go/bigquery"
)

var speedtestSchema string

func init() {
	flag.StringVar(&speedtestSchema, "speedtest", "/var/spool/datatypes/speedtest.json", "filename to write speedtest schema")
}

// generate infers the BigQuery schema of the archived session format, with
// every field nullable, and returns it as JSON.
func generate() ([]byte, error) {
	sch, err := bigquery.InferSchema(model.ArchivalData{})
	if err != nil {
		return nil, err
	}
	sch = bqx.RemoveRequired(sch)
	return sch.ToJSONFields()
}

func main() {
	flag.Parse()
	// Generate and save the schema for autoloading.
	b, err := generate()
	rtx.Must(err, "failed to generate speedtest schema")
	err = os.WriteFile(speedtestSchema, b, 0o644)
	rtx.Must(err, "failed to write speedtest schema")
}
