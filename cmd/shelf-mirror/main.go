package main

import "github.com/dtq1997/steamshelf-updater/cmd/shelf-mirror/cmd"

func main() {
	cmd.Execute()
}
