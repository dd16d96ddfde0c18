package main

import "github.com/vovakirdan/chatsync-sdk/cmd/chatsim/cmd"

func main() {
	cmd.Execute()
}
