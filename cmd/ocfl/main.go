// ocfl is a command line tool for working with OCFL repositories.
package main

import "github.com/preservio/ocfl/cmd/ocfl/cmd"

func main() {
	cmd.Execute()
}
