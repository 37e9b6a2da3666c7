package main

import "github.com/dtq1997/steamshelf-updater/cmd/shelf-release/cmd"

func main() {
	cmd.Execute()
}
