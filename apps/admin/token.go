package main

import (
	"fmt"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/campus/apps/api/echo"
)

func (cli *commandLine) token(subject, name string, admin bool) error {
	token, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, subject, name, admin))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
