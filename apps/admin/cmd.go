package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/campus"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf      *core.Config
	db        *sql.DB
	campusSvc *campus.Service
	validate  *validator.Validate
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                  - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  import -file FILE                       - queue the entities of a JSON document and persist them")
	fmt.Fprintln(cli.out, "  token -subject ID [-name NAME] [-admin] - mint an API token")
	fmt.Fprintln(cli.out, "  rows -table TABLE                       - print the rows of a cached table as JSON")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	importCmd := flag.NewFlagSet("import", flag.ContinueOnError)
	importFile := importCmd.String("file", "", "The JSON document to import.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenSubject := tokenCmd.String("subject", "", "The API client ID.")
	tokenName := tokenCmd.String("name", "", "The API client name.")
	tokenAdmin := tokenCmd.Bool("admin", false, "Allow draining caches and reading tables.")

	rowsCmd := flag.NewFlagSet("rows", flag.ContinueOnError)
	rowsTable := rowsCmd.String("table", "", "One of the cached tables.")

	for _, cmd := range []*flag.FlagSet{importCmd, tokenCmd, rowsCmd} {
		cmd.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "import":
		if err := importCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *importFile == "" {
			importCmd.Usage()
			return errHelp
		}
		return cli.importFile(*importFile)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenSubject == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenSubject, *tokenName, *tokenAdmin)
	case "rows":
		if err := rowsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *rowsTable == "" {
			rowsCmd.Usage()
			return errHelp
		}
		return cli.rows(*rowsTable)
	default:
		cli.printUsage()
		return errHelp
	}
}
