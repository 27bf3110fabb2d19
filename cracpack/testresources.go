package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jveski/cracpack/internal/testresources"
)

func testResourcesCmd(c *cli.Context) error {
	settings := &testresources.Settings{Port: c.Int("port")}
	if c.IsSet("token") {
		token := c.String("token")
		settings.Token = &token
	}
	if c.IsSet("client-timeout") {
		timeout := c.Int("client-timeout")
		settings.ClientTimeout = &timeout
	}

	fp, err := testresources.WriteServerSettings(c.String("output-dir"), settings)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, fp)
	return nil
}
