package main

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

func (cli *commandLine) rows(table string) error {
	rows, err := cli.campusSvc.RawRows(context.Background(), table)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(rows), "encoding rows")
}
