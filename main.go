package main

import "github.com/turbolytics/pimsync/internal/cmd"

func main() {
	cmd.Execute()
}
