package main

import "github.com/vovakirdan/chatsync-sdk/cmd/chatsync/cmd"

func main() {
	cmd.Execute()
}
