package main

import "mindgarden/backend/cmd/mindctl/cmd"

func main() {
	cmd.Execute()
}
