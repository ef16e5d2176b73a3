package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/campus"
)

// importFile queues every entity of a campus.Document then drains the caches.
func (cli *commandLine) importFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening document")
	}
	defer func() { _ = f.Close() }()

	var doc campus.Document
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err = dec.Decode(&doc); err != nil {
		return errors.Wrap(err, "decoding document")
	}
	if err = cli.validate.Struct(doc); err != nil {
		return errors.Wrap(err, "validating document")
	}

	cli.campusSvc.Import(doc)
	if err = cli.campusSvc.DrainAll(context.Background()); err != nil {
		return errors.Wrap(err, "persisting document")
	}
	fmt.Fprintf(cli.out, "%d entities imported\n", doc.Len())
	return nil
}
