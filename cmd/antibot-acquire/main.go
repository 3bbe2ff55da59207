package main

import cmd "github.com/rohmanhakim/antibot-acquire/internal/cli"

func main() {
	cmd.Execute()
}
