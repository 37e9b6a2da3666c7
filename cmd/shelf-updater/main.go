package main

import "github.com/dtq1997/steamshelf-updater/cmd/shelf-updater/cmd"

func main() {
	cmd.Execute()
}
