// Command importctl imports student CSV files from the command line.
package main

import "github.com/campusops/admin/internal/cli"

func main() {
	cli.Execute()
}
