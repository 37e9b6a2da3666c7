package main

import "github.com/dtq1997/steamshelf-updater/cmd/shelf-packager/cmd"

func main() {
	cmd.Execute()
}
