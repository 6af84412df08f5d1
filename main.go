package main

import "github.com/andresmejia3/securiface/cmd"

func main() {
	cmd.Execute()
}
